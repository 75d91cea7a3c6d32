package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/roach88/railverify/internal/purchase"
)

// Printer writes command results to Out, as text or as the same JSON
// envelope the HTTP API uses. Diagnostics go to Diag so JSON output stays
// parseable.
type Printer struct {
	JSON    bool
	Verbose bool
	Out     io.Writer
	Diag    io.Writer
}

// envelope mirrors the HTTP response bodies.
type envelope struct {
	OK         bool           `json:"ok"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ReasonCode string         `json:"reasonCode,omitempty"`
	PurchaseID string         `json:"purchaseId,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Result prints text, or data wrapped in {"ok":true,"data":...}.
func (p *Printer) Result(text string, data any) error {
	if p.JSON {
		return p.encode(envelope{OK: true, Data: data})
	}
	_, err := io.WriteString(p.Out, text)
	return err
}

// Rejection prints a refused purchase claim. Verifier meta is shown in
// text mode only with --verbose.
func (p *Printer) Rejection(rej *purchase.Rejection) error {
	reason := string(rej.Reason)
	if reason == "" {
		reason = rej.Code
	}
	if p.JSON {
		return p.encode(envelope{
			Error:      rej.Code,
			ReasonCode: reason,
			PurchaseID: rej.PurchaseID,
			Meta:       rej.Meta,
			Message:    rej.Error(),
		})
	}

	fmt.Fprintf(p.Out, "Rejected [%s]: %s\n", rej.Code, reason)
	if rej.PurchaseID != "" {
		fmt.Fprintf(p.Out, "  purchase:  %s\n", rej.PurchaseID)
	}
	if p.Verbose {
		keys := make([]string, 0, len(rej.Meta))
		for k := range rej.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(p.Out, "  %s: %v\n", k, rej.Meta[k])
		}
	}
	return nil
}

// Failure prints an error that is not a rejection under a short code.
func (p *Printer) Failure(code string, err error) error {
	if p.JSON {
		return p.encode(envelope{Error: code, Message: err.Error()})
	}
	_, werr := fmt.Fprintf(p.Out, "Error [%s]: %v\n", code, err)
	return werr
}

// Debugf writes one diagnostic line to Diag when verbose.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose {
		return
	}
	w := p.Diag
	if w == nil {
		w = p.Out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (p *Printer) encode(v envelope) error {
	return json.NewEncoder(p.Out).Encode(v)
}
