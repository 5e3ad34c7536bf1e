package fileio

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

var (
	envelopeOnce   sync.Once
	envelopeSchema *santhosh.Schema
	envelopeErr    error
)

func compiledEnvelope() (*santhosh.Schema, error) {
	envelopeOnce.Do(func() {
		compiler := santhosh.NewCompiler()
		compiler.Draft = santhosh.Draft7
		if err := compiler.AddResource("envelope.schema.json", bytes.NewReader(envelopeSchemaJSON)); err != nil {
			envelopeErr = err
			return
		}
		envelopeSchema, envelopeErr = compiler.Compile("envelope.schema.json")
	})
	return envelopeSchema, envelopeErr
}

// ReadJSON parses an import file holding a JSON array of question objects.
func ReadJSON(r io.Reader) ([]domain.Question, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	doc, err := domain.DecodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	schema, err := compiledEnvelope()
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(collectValidationErrors(ve), "; "))
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	qs, err := domain.DecodeQuestions(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return qs, nil
}

// WriteJSON writes qs as an indented JSON array.
func WriteJSON(w io.Writer, qs []domain.Question) error {
	if qs == nil {
		qs = []domain.Question{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(qs); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, loc+": "+ve.Message)
	}
	return msgs
}
