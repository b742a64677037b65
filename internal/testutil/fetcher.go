package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/transport"
)

// Step scripts one Fetch call. A nil Err serves Data, or the payload
// registered for the bundle when Data is nil.
type Step struct {
	Err  error
	Data []byte
}

// ScriptedFetcher is a transport.Fetcher that replays scripted steps and
// then serves registered payloads.
type ScriptedFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	steps    []Step
	calls    []string
}

// Interface compliance.
var _ transport.Fetcher = (*ScriptedFetcher)(nil)

// NewScriptedFetcher returns a fetcher serving payloads by bundle name
// after consuming steps in order.
func NewScriptedFetcher(payloads map[string][]byte, steps ...Step) *ScriptedFetcher {
	if payloads == nil {
		payloads = make(map[string][]byte)
	}
	return &ScriptedFetcher{payloads: payloads, steps: steps}
}

// SetPayload registers the payload served for name.
func (f *ScriptedFetcher) SetPayload(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[name] = data
}

// Calls returns the bundle names fetched, in call order.
func (f *ScriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Fetch implements transport.Fetcher.
func (f *ScriptedFetcher) Fetch(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error {
	f.mu.Lock()
	f.calls = append(f.calls, desc.Name)
	var step Step
	if len(f.steps) > 0 {
		step, f.steps = f.steps[0], f.steps[1:]
	}
	data := step.Data
	if data == nil {
		data = f.payloads[desc.Name]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if step.Err != nil {
		return step.Err
	}
	if data == nil {
		return &transport.StatusError{StatusCode: 404, Target: desc.Name, Err: fmt.Errorf("no payload for %q", desc.Name)}
	}
	half := len(data) / 2
	if _, err := w.Write(data[:half]); err != nil {
		return err
	}
	progress.Report(fn, 0.5)
	if _, err := w.Write(data[half:]); err != nil {
		return err
	}
	progress.Report(fn, 1)
	return nil
}
