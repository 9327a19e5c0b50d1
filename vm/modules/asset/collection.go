package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/vm"
)

func init() {
	vm.Register(core.TxRegisterTemplate, registerCollection)
}

// validCollectionID rejects ids that cannot appear in an AssetRef key
// ("collection/asset").
func validCollectionID(id string) error {
	switch {
	case id == "":
		return errors.New("template id required")
	case strings.Contains(id, "/"):
		return fmt.Errorf("template id %q must not contain '/'", id)
	}
	return nil
}

// registerCollection creates an asset template. The sender becomes its
// creator, the only account allowed to mint into it.
func registerCollection(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterTemplatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode register_template payload: %w", err)
	}
	if err := validCollectionID(p.ID); err != nil {
		return err
	}
	switch _, err := ctx.State.GetTemplate(p.ID); {
	case err == nil:
		return fmt.Errorf("template %q already exists", p.ID)
	case !errors.Is(err, core.ErrNotFound):
		return fmt.Errorf("look up template %q: %w", p.ID, err)
	}

	if err := ctx.State.SetTemplate(&core.AssetTemplate{
		ID:        p.ID,
		Name:      p.Name,
		Schema:    p.Schema,
		Tradeable: p.Tradeable,
		Creator:   ctx.Tx.From,
	}); err != nil {
		return err
	}
	ctx.Emit(events.EventTemplateReg, map[string]any{
		"template_id": p.ID,
		"name":        p.Name,
		"tradeable":   p.Tradeable,
		"creator":     ctx.Tx.From,
	})
	return nil
}
