package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/binsight/core/internal/errors"
)

func TestExtractFunctions_StandardAddressField(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"main","address":"0x401000","size":64,"is_entry":true}`),
	}

	functions, err := extractFunctions(raw, ".address")

	require.NoError(t, err)
	require.Len(t, functions, 1)
	assert.Equal(t, "0x401000", functions[0].Address)
	assert.Equal(t, "main", functions[0].Name)
}

func TestExtractFunctions_AlternateFieldName(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"helper","addr":"0x402010","size":16}`),
	}

	functions, err := extractFunctions(raw, ".addr")

	require.NoError(t, err)
	assert.Equal(t, "0x402010", functions[0].Address)
}

func TestExtractFunctions_NumericAddress(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"helper","offset":4198400}`),
	}

	functions, err := extractFunctions(raw, ".offset")

	require.NoError(t, err)
	assert.Equal(t, "0x401000", functions[0].Address)
}

func TestExtractFunctions_WrongFieldPathFailsLoudly(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"main","address":"0x401000"}`),
	}

	_, err := extractFunctions(raw, ".addr")

	assert.Error(t, err)
}

func TestExtractFunctions_NullAddressFailsLoudly(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"main","address":null}`),
	}

	_, err := extractFunctions(raw, ".address")

	assert.Error(t, err)
}

func TestExtractFunctions_MajorityZeroAddressRejected(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"a","address":"0x0"}`),
		[]byte(`{"name":"b","address":"0x0"}`),
		[]byte(`{"name":"c","address":"0x401000"}`),
	}

	_, err := extractFunctions(raw, ".address")

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "engine_extraction_invalid", appErr.Code)
	assert.Contains(t, err.Error(), "collapse threshold")
}

func TestExtractFunctions_SingleZeroAddressTolerated(t *testing.T) {
	raw := make([]json.RawMessage, 0, 200)
	raw = append(raw, json.RawMessage(`{"name":"entry","address":"0x0"}`))
	for i := 0; i < 199; i++ {
		raw = append(raw, json.RawMessage(`{"name":"f","address":"0x401000"}`))
	}

	functions, err := extractFunctions(raw, ".address")

	require.NoError(t, err)
	assert.Len(t, functions, 200)
}

func TestExtractFunctions_DanglingCallReferenceRejected(t *testing.T) {
	raw := []json.RawMessage{
		[]byte(`{"name":"main","address":"0x401000","calls_to":["0x999999"]}`),
	}

	_, err := extractFunctions(raw, ".address")

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "engine_extraction_invalid", appErr.Code)
	assert.Contains(t, err.Error(), "dangling address")
}
