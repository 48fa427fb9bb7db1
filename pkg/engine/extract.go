package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
)

// canonicalFunction mirrors domain.FunctionRecord but leaves Address out:
// it is recovered separately via the configured gojq expression, since the
// engine's wire format for this field has changed across versions.
type canonicalFunction struct {
	Name          string   `json:"name"`
	Size          int64    `json:"size"`
	AssemblyBlock string   `json:"assembly_block"`
	CallsTo       []string `json:"calls_to"`
	CalledBy      []string `json:"called_by"`
	IsEntry       bool     `json:"is_entry"`
	IsImported    bool     `json:"is_imported"`
}

// extractFunctions decodes each raw function object and resolves its
// address via addressFieldPath, a gojq expression (e.g. ".address",
// ".addr", ".offset.hex"). An integration once hardcoded the wrong field
// name here and silently produced an all-zero address for every function;
// addressFieldPath is a config value specifically so that mistake can be
// corrected without a code change.
func extractFunctions(raw []json.RawMessage, addressFieldPath string) ([]domain.FunctionRecord, error) {
	query, err := gojq.Parse(addressFieldPath)
	if err != nil {
		return nil, fmt.Errorf("parse address field path %q: %w", addressFieldPath, err)
	}

	out := make([]domain.FunctionRecord, 0, len(raw))
	for i, msg := range raw {
		var cf canonicalFunction
		if err := json.Unmarshal(msg, &cf); err != nil {
			return nil, fmt.Errorf("function %d: decode: %w", i, err)
		}

		var generic interface{}
		if err := json.Unmarshal(msg, &generic); err != nil {
			return nil, fmt.Errorf("function %d: decode for address extraction: %w", i, err)
		}
		address, err := extractAddress(query, generic)
		if err != nil {
			return nil, fmt.Errorf("function %d (%s): %w", i, cf.Name, err)
		}

		out = append(out, domain.FunctionRecord{
			Name: cf.Name, Address: address, Size: cf.Size, AssemblyBlock: cf.AssemblyBlock,
			CallsTo: cf.CallsTo, CalledBy: cf.CalledBy, IsEntry: cf.IsEntry, IsImported: cf.IsImported,
		})
	}
	if err := validateFunctions(out); err != nil {
		return nil, err
	}
	return out, nil
}

// maxZeroAddressFraction is the collapse threshold: if more than this
// fraction of a result's functions share the zero address, addressFieldPath
// is almost certainly pointed at the wrong field again and the result must
// be rejected rather than persisted with corrupted identities.
const maxZeroAddressFraction = 0.01

// validateFunctions enforces two closure properties the rest of the
// pipeline assumes hold for every DecompilationResult: addresses mostly
// aren't zero, and calls_to/called_by never reference an address absent
// from the same result.
func validateFunctions(functions []domain.FunctionRecord) error {
	if len(functions) == 0 {
		return nil
	}

	known := make(map[string]struct{}, len(functions))
	zero := 0
	for _, f := range functions {
		known[f.Address] = struct{}{}
		if isZeroAddress(f.Address) {
			zero++
		}
	}
	if frac := float64(zero) / float64(len(functions)); frac > maxZeroAddressFraction {
		return apperrors.NewEngineError("engine_extraction_invalid",
			fmt.Sprintf("%d/%d functions resolved to address 0x0 (%.1f%%), exceeding the 1%% collapse threshold", zero, len(functions), frac*100))
	}

	for _, f := range functions {
		for _, addr := range f.CallsTo {
			if _, ok := known[addr]; !ok {
				return apperrors.NewEngineError("engine_extraction_invalid",
					fmt.Sprintf("function %s calls_to dangling address %s", f.Address, addr))
			}
		}
		for _, addr := range f.CalledBy {
			if _, ok := known[addr]; !ok {
				return apperrors.NewEngineError("engine_extraction_invalid",
					fmt.Sprintf("function %s called_by dangling address %s", f.Address, addr))
			}
		}
	}
	return nil
}

// isZeroAddress reports whether addr is "0x0" up to leading zeros and case,
// the canonical collapsed-address value produced by a misconfigured
// addressFieldPath.
func isZeroAddress(addr string) bool {
	trimmed := strings.TrimPrefix(strings.ToLower(addr), "0x")
	trimmed = strings.TrimLeft(trimmed, "0")
	return trimmed == ""
}

func extractAddress(query *gojq.Query, input interface{}) (string, error) {
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return "", apperrors.NewEngineError("engine_bad_output", "address field path matched nothing")
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("evaluate address field path: %w", err)
	}
	switch addr := v.(type) {
	case string:
		if addr == "" {
			return "", apperrors.NewEngineError("engine_bad_output", "address field resolved to empty string")
		}
		return addr, nil
	case float64:
		return fmt.Sprintf("0x%x", int64(addr)), nil
	case nil:
		return "", apperrors.NewEngineError("engine_bad_output", "address field resolved to null")
	default:
		return "", apperrors.NewEngineError("engine_bad_output", "address field resolved to an unsupported type")
	}
}
