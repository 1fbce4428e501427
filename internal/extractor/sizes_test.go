package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/parallel"
	"github.com/sizemap/pkg/utils"
)

func newTestScanner(threshold int) *scanner {
	return &scanner{
		ctx:       context.Background(),
		pool:      parallel.NewWorkerPool[parallel.Range, []model.SymbolRecord](parallel.DefaultPoolConfig().WithWorkers(3)),
		threshold: threshold,
		chunk:     2,
		logger:    utils.OrNull(nil),
	}
}

func sym(name string, index, section int, addr uint64) addressed {
	return addressed{
		rec:     model.SymbolRecord{Name: []byte(name), Section: "s", Index: index},
		section: section,
		addr:    addr,
	}
}

func TestSynthesizeSizes(t *testing.T) {
	sections := []bounds{{start: 0x100, end: 0x200}, {start: 0x1000, end: 0x1010}}
	input := func() []addressed {
		return []addressed{
			sym("c", 0, 0, 0x180),
			sym("a", 1, 0, 0x100),
			sym("x", 2, 1, 0x1008),
			sym("b", 3, 0, 0x140),
			sym("b_alias", 4, 0, 0x140),
			sym("outside", 5, 1, 0x2000),
			sym("y", 6, 1, 0x1000),
		}
	}
	want := map[string]uint64{
		"c":       0x80,
		"a":       0x40,
		"x":       0x8,
		"b":       0x40,
		"b_alias": 0,
		"outside": 0,
		"y":       0x8,
	}

	for _, threshold := range []int{1000, 1} {
		out, err := newTestScanner(threshold).synthesizeSizes(input(), sections)
		require.NoError(t, err)
		require.Len(t, out, 7)
		for i, r := range out {
			assert.Equal(t, i, r.Index, "threshold %d", threshold)
			assert.Equal(t, want[string(r.Name)], r.Size, "%s at threshold %d", r.Name, threshold)
		}
	}
}

func TestSynthesizeSizes_Empty(t *testing.T) {
	out, err := newTestScanner(1).synthesizeSizes(nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestSynthesizeSizes_Cancelled(t *testing.T) {
	s := newTestScanner(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ctx = ctx

	_, err := s.synthesizeSizes([]addressed{sym("a", 0, 0, 0), sym("b", 1, 1, 0)}, []bounds{{0, 4}, {0, 4}})
	assert.ErrorIs(t, err, context.Canceled)
}
