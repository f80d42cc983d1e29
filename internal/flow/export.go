package flow

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/research-kreat/kreat-agentic/internal/api"
	"github.com/research-kreat/kreat-agentic/internal/state"
	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// Export writes the current conversation as a JSON document named with the
// session id prefix and today's date. Exporting an empty conversation is
// rejected and no file is produced. Returns the written path.
func (e *Engine) Export(dir string) (string, error) {
	session, ok := e.store.Session()
	if !ok {
		return "", &api.ValidationError{Reason: "no open session"}
	}
	messages := e.store.History()
	if len(messages) == 0 {
		return "", &api.ValidationError{Reason: "nothing to export"}
	}

	doc := types.Export{
		SessionID:  session.ID,
		Type:       session.Type,
		Messages:   messages,
		ExportedAt: types.Now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", session.ShortID(), time.Now().UTC().Format("2006-01-02"))
	path := filepath.Join(dir, name)
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		e.store.AddActivity("error", "export", err.Error())
		return "", fmt.Errorf("write export: %w", err)
	}

	e.store.AddActivity("info", "export", "wrote "+path)
	if e.cache != nil {
		_ = e.cache.AddResult(state.ResultSummary{
			SessionID: session.ID,
			Type:      session.Type,
			Title:     session.Name,
			SavedAt:   doc.ExportedAt,
		})
	}
	return path, nil
}
