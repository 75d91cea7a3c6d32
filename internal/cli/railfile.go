package cli

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/railverify/internal/verify"
)

//go:embed rails.cue
var railSchemaSource string

// railFile is the layout accepted by "rails import". Field names follow the
// CUE schema in rails.cue; Decode reads the json tags.
type railFile struct {
	Rails []railEntry `json:"rails"`
}

type railEntry struct {
	Rail             string         `json:"rail"`
	ChainID          *int64         `json:"chain_id"`
	Currency         string         `json:"currency"`
	Treasury         string         `json:"treasury"`
	RPCURL           string         `json:"rpc_url"`
	Enabled          bool           `json:"enabled"`
	MinConfirmations int64          `json:"min_confirmations"`
	Metadata         map[string]any `json:"metadata"`
}

// parseRailFile decodes a YAML rail file, validates it against the
// #RailFile schema and returns normalized rail configs.
func parseRailFile(r io.Reader) ([]verify.RailConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rail file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rail file: %w", err)
	}
	if doc == nil {
		return nil, errors.New("rail file is empty")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(railSchemaSource, cue.Filename("rails.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile rail schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#RailFile")).Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid rail file:\n%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	var f railFile
	if err := value.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rail file: %w", err)
	}

	out := make([]verify.RailConfig, 0, len(f.Rails))
	for i, e := range f.Rails {
		rail, err := verify.ParseRail(strings.ToLower(e.Rail))
		if err != nil {
			return nil, fmt.Errorf("rails[%d]: %w", i, err)
		}
		chainID := e.ChainID
		if !rail.UsesChainID() {
			chainID = nil
		}
		out = append(out, verify.RailConfig{
			Rail:             rail,
			ChainID:          chainID,
			Currency:         strings.ToUpper(e.Currency),
			Treasury:         strings.TrimSpace(e.Treasury),
			RPCURL:           strings.TrimSpace(e.RPCURL),
			Enabled:          e.Enabled,
			MinConfirmations: e.MinConfirmations,
			Metadata:         e.Metadata,
		})
	}
	return out, nil
}
