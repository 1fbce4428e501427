package extractor

import (
	"context"
	"sort"

	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/parallel"
)

// addressed is a defined symbol whose size must be inferred from the
// addresses around it, as Mach-O and COFF symbol tables carry none.
type addressed struct {
	rec     model.SymbolRecord
	section int
	addr    uint64
}

// bounds is the address range [start, end) covered by one section.
type bounds struct {
	start uint64
	end   uint64
}

// collectAddressed keeps the table entries accepted by keep, in table order.
func collectAddressed[T any](table []T, keep func(i int, entry T) (addressed, bool, error)) ([]addressed, error) {
	var out []addressed
	for i, entry := range table {
		a, ok, err := keep(i, entry)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// synthesizeSizes gives every symbol the distance to the next higher
// address in its section, or to the section end for the last one.
// Symbols sharing an address are aliases: the first in table order takes
// the size and the rest get zero, so the bytes are counted once.
// A symbol outside its section's range gets zero.
func (s *scanner) synthesizeSizes(syms []addressed, sections []bounds) ([]model.SymbolRecord, error) {
	if len(syms) == 0 {
		return nil, nil
	}

	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].section != syms[j].section {
			return syms[i].section < syms[j].section
		}
		return syms[i].addr < syms[j].addr
	})

	var groups []parallel.Range
	for start := 0; start < len(syms); {
		end := start + 1
		for end < len(syms) && syms[end].section == syms[start].section {
			end++
		}
		groups = append(groups, parallel.Range{Start: start, End: end})
		start = end
	}

	sizeSection := func(r parallel.Range) []model.SymbolRecord {
		part := syms[r.Start:r.End]
		sec := sections[part[0].section]
		out := make([]model.SymbolRecord, 0, len(part))
		for i := 0; i < len(part); {
			j := i + 1
			for j < len(part) && part[j].addr == part[i].addr {
				j++
			}

			var size uint64
			addr := part[i].addr
			switch {
			case addr < sec.start || addr >= sec.end:
				size = 0
			case j < len(part):
				size = min(part[j].addr, sec.end) - addr
			default:
				size = sec.end - addr
			}

			for k := i; k < j; k++ {
				rec := part[k].rec
				if k == i {
					rec.Size = size
				}
				out = append(out, rec)
			}
			i = j
		}
		return out
	}

	var out []model.SymbolRecord
	if len(syms) <= s.threshold || len(groups) == 1 || s.pool == nil {
		out = make([]model.SymbolRecord, 0, len(syms))
		for _, g := range groups {
			out = append(out, sizeSection(g)...)
		}
	} else {
		results := s.pool.ExecuteFunc(s.context(), groups, func(ctx context.Context, r parallel.Range) ([]model.SymbolRecord, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return sizeSection(r), nil
		})
		out = make([]model.SymbolRecord, 0, len(syms))
		for _, res := range results {
			if res.Error != nil {
				return nil, res.Error
			}
			out = append(out, res.Result...)
		}
	}

	sortByIndex(out)
	return out, nil
}
