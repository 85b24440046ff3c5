package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
)

// ParseQuery reads "prefix | suffix". Without a separator the whole line is the suffix.
func ParseQuery(line string) *domain.Query {
	prefix, suffix, found := strings.Cut(line, "|")
	if !found {
		return domain.NewQuery(domain.Epsilon(), domain.ParseWord(line))
	}
	return domain.NewQuery(domain.ParseWord(prefix), domain.ParseWord(suffix))
}

// ReadQueries collects one query per non-blank line; lines starting with # are skipped.
func ReadQueries(r io.Reader) ([]*domain.Query, error) {
	var queries []*domain.Query
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, ParseQuery(line))
	}
	return queries, sc.Err()
}

// RunProbe answers queries as one batch and prints one line per query, in input order.
func RunProbe(ctx context.Context, oracle ports.Oracle, queries []*domain.Query, w io.Writer) error {
	if err := oracle.ProcessQueries(ctx, queries); err != nil {
		return err
	}
	for _, q := range queries {
		if _, err := fmt.Fprintf(w, "%s | %s -> %s\n", q.Prefix, q.Suffix, q.Output()); err != nil {
			return err
		}
	}
	return nil
}
