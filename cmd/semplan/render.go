package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/planner"
	"github.com/c360studio/semplan/session"
	"github.com/c360studio/semplan/workflow"
)

func sourceLabel(res *planner.Result) string {
	switch res.Outcome {
	case planner.OutcomeHeuristic:
		return "heuristic plan: no provider answered"
	case planner.OutcomeFallback:
		return "via " + res.Provider + " (fallback)"
	default:
		return "via " + res.Provider
	}
}

func writeResult(w io.Writer, sess *session.Session, res *planner.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res.Plan)
	}
	renderPlan(w, res.Plan)
	fmt.Fprintf(w, "\nSession %s, %s\n", sess.ID, sourceLabel(res))
	for _, a := range res.Attempts {
		if a.Err != nil {
			fmt.Fprintf(w, "  %s failed: %s\n", a.Provider, llm.KindOf(a.Err))
		}
	}
	return nil
}

func renderPlan(w io.Writer, p *workflow.Plan) {
	fmt.Fprintf(w, "%s\n", p.Title)
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", len(p.Title)))
	if p.Description != "" {
		fmt.Fprintf(w, "%s\n", p.Description)
	}
	fmt.Fprintf(w, "Plan %s (%s)\n\n", p.ID, p.Status)

	for _, t := range p.Tasks {
		fmt.Fprintf(w, "%s. %s", t.ID, t.Title)
		if len(t.Dependencies) > 0 {
			deps := make([]string, len(t.Dependencies))
			for i, d := range t.Dependencies {
				deps[i] = string(d)
			}
			fmt.Fprintf(w, "  [after %s]", strings.Join(deps, ", "))
		}
		if t.EstimatedDuration != "" {
			fmt.Fprintf(w, "  ~%s", t.EstimatedDuration)
		}
		fmt.Fprintln(w)
		if t.Description != "" {
			fmt.Fprintf(w, "   %s\n", t.Description)
		}
	}
}

func renderHistory(w io.Writer, sess *session.Session) {
	for _, m := range sess.History {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
	}
}

func renderSessions(w io.Writer, summaries []session.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPLANS\tMESSAGES\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.ID, s.Plans, s.Messages, s.UpdatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func renderCalls(w io.Writer, records []*llm.CallRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tPROVIDER\tMODEL\tRETRIES\tMS\tTOKENS\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Provider, r.Model, r.Retries, r.DurationMs, r.TotalTokens, r.Error)
	}
	_ = tw.Flush()
}
