package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"gopkg.in/yaml.v3"
)

const CurrentVersion = 1

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is a saved panel project.
type Document struct {
	Version     int                `json:"version"`
	Name        string             `json:"name,omitempty"`
	CurrentPage int                `json:"currentPage"`
	Pages       []types.Page       `json:"pages"`
	Components  types.ComponentMap `json:"components"`
}

// FromSnapshot wraps the table contents in a document.
func FromSnapshot(name string, s components.Snapshot) *Document {
	return &Document{
		Version:     CurrentVersion,
		Name:        name,
		CurrentPage: s.CurrentPage,
		Pages:       s.Pages,
		Components:  s.Components,
	}
}

func (d *Document) Snapshot() components.Snapshot {
	return components.Snapshot{
		Pages:       d.Pages,
		Components:  d.Components,
		CurrentPage: d.CurrentPage,
	}
}

// Codec reads and writes project documents. Input is validated against the
// project schema before it is decoded.
type Codec struct {
	validator *Validator
}

func NewCodec() (*Codec, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Codec{validator: v}, nil
}

// Decode parses data in the given format. Schema violations, undecodable
// components and unrepairable membership are returned as errors; other
// membership problems are repaired and listed in the report.
func (c *Codec) Decode(data []byte, format Format) (*Document, Report, error) {
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, Report{}, err
	}
	if err := c.validator.Validate(jsonData); err != nil {
		return nil, Report{}, fmt.Errorf("%w: %v", types.ErrInvalidProject, err)
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, Report{}, fmt.Errorf("%w: %v", types.ErrInvalidProject, err)
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Components == nil {
		doc.Components = types.ComponentMap{}
	}

	rep := Normalize(&doc)
	if !rep.Valid {
		return &doc, rep, fmt.Errorf("%w: %s", types.ErrInvalidProject, rep.Errors[0].Message)
	}
	return &doc, rep, nil
}

func (c *Codec) Encode(doc *Document, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode project: %w", err)
	}
	if format != FormatYAML {
		return data, nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to encode project: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode project as yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	if format != FormatYAML {
		return data, nil
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: invalid yaml: %v", types.ErrInvalidProject, err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidProject, err)
	}
	return out, nil
}
