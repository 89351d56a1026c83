// Package tenants seeds tenant credentials from a file at startup.
package tenants

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/stacklok/seqci-proxy/internal/registry"
)

// Entry is one tenant line of a users file
type Entry struct {
	Name   string
	APIKey string
}

// Creator persists tenants
type Creator interface {
	CreateTenant(ctx context.Context, name, apiKey string) (*registry.Tenant, error)
}

// Parse reads "name,api_key" lines. Blank lines and lines starting with
// '#' are ignored; any other line without exactly two non-empty fields is
// an error.
func Parse(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var entries []Entry
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("malformed users file: %w", err)
		}

		line, _ := cr.FieldPos(0)
		entry := Entry{Name: strings.TrimSpace(record[0]), APIKey: strings.TrimSpace(record[1])}
		if entry.Name == "" || entry.APIKey == "" {
			return nil, fmt.Errorf("malformed users file: line %d: name and api key must be non-empty", line)
		}
		entries = append(entries, entry)
	}
}

// Seed creates every entry. Keys that already exist are logged and
// skipped. It returns the number of tenants created.
func Seed(ctx context.Context, store Creator, entries []Entry) (int, error) {
	created := 0
	for _, e := range entries {
		_, err := store.CreateTenant(ctx, e.Name, e.APIKey)
		switch {
		case errors.Is(err, registry.ErrTenantExists):
			slog.DebugContext(ctx, "Tenant already present, skipping", "tenant", e.Name)
		case err != nil:
			return created, fmt.Errorf("failed to create tenant %s: %w", e.Name, err)
		default:
			created++
			slog.DebugContext(ctx, "Tenant seeded", "tenant", e.Name)
		}
	}
	return created, nil
}

// SeedFile parses path and seeds its tenants
func SeedFile(ctx context.Context, store Creator, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open users file: %w", err)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return 0, err
	}
	return Seed(ctx, store, entries)
}
