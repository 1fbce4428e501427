package extractor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizemap/internal/testutil"
	"github.com/sizemap/pkg/model"

	apperrors "github.com/sizemap/pkg/errors"
)

type rec struct {
	Name    string
	Size    uint64
	Section string
	Index   int
}

func simplify(recs []model.SymbolRecord) []rec {
	out := make([]rec, len(recs))
	for i, r := range recs {
		out[i] = rec{Name: string(r.Name), Size: r.Size, Section: r.Section, Index: r.Index}
	}
	return out
}

func elfFixture() *testutil.Image {
	return testutil.ELF64(
		[]testutil.Section{
			{Name: ".text", Addr: 0x1000, Size: 0x100},
			{Name: ".data", Addr: 0x2000, Size: 0x40},
			{Name: ".bss", Addr: 0x3000, Size: 0x20, NoBits: true},
		},
		[]testutil.Sym{
			{Name: "main", Section: ".text", Value: 0x1000, Size: 0x20, Kind: testutil.KindFunc},
			{Name: "helper", Section: ".text", Value: 0x1020, Kind: testutil.KindFunc, Local: true},
			{Name: "counter", Section: ".data", Value: 0x2000, Size: 8, Kind: testutil.KindObject},
			{Name: "buf", Section: ".bss", Value: 0x3000, Size: 16, Kind: testutil.KindObject},
			{Name: "puts", Section: testutil.SectionUndef, Kind: testutil.KindFunc},
			{Name: "ABS_CONST", Section: testutil.SectionAbs, Value: 42, Size: 4},
			{Name: ".text", Section: ".text", Kind: testutil.KindSection, Local: true},
			{Name: "main.c", Section: testutil.SectionAbs, Kind: testutil.KindFile, Local: true},
			{Name: "common_buf", Section: testutil.SectionCommon, Value: 8, Size: 4, Kind: testutil.KindObject},
			{Name: "tls_var", Section: ".data", Value: 0x2010, Size: 4, Kind: testutil.KindTLS},
			{Name: "_ZN3foo3barEv", Section: ".text", Value: 0x1040, Size: 0x10, Kind: testutil.KindNoType},
		})
}

func machoFixture() *testutil.Image {
	return testutil.MachO64(
		[]testutil.Section{
			{Segment: "__TEXT", Name: "__text", Addr: 0x1000, Size: 0x100},
			{Segment: "__TEXT", Name: "__const", Addr: 0x1100, Size: 0x40},
			{Segment: "__DATA", Name: "__data", Addr: 0x2000, Size: 0x30},
			{Segment: "__DATA", Name: "__bss", Addr: 0x3000, Size: 0x20, NoBits: true},
		},
		[]testutil.Sym{
			{Name: "_main", Section: "__text", Value: 0x1000},
			{Name: "_helper", Section: "__text", Value: 0x1040, Local: true},
			{Name: "_helper_alias", Section: "__text", Value: 0x1040},
			{Name: "_table", Section: "__const", Value: 0x1100},
			{Name: "_counter", Section: "__data", Value: 0x2000},
			{Name: "_last", Section: "__data", Value: 0x2010},
			{Name: "_buf", Section: "__bss", Value: 0x3000},
			{Name: "_puts", Section: testutil.SectionUndef},
			{Name: "_main", Section: "__text", Value: 0x1000, Kind: testutil.KindStab},
			{Name: "_abs", Section: testutil.SectionAbs, Value: 7},
		})
}

func peFixture(build func([]testutil.Section, []testutil.Sym) *testutil.Image, prefix string) *testutil.Image {
	return build(
		[]testutil.Section{
			{Name: ".text", Addr: 0x1000, Size: 0x100},
			{Name: ".data", Addr: 0x2000, Size: 0x40},
			{Name: ".bss", Addr: 0x3000, Size: 0x10, NoBits: true},
		},
		[]testutil.Sym{
			{Name: ".text", Section: ".text", Kind: testutil.KindSection},
			{Name: prefix + "main", Section: ".text", Value: 0, Kind: testutil.KindFunc},
			{Name: prefix + "a_rather_long_function_name", Section: ".text", Value: 0x80, Kind: testutil.KindFunc},
			{Name: "static_helper", Section: ".text", Value: 0x80, Local: true},
			{Name: prefix + "counter", Section: ".data", Value: 0x10},
			{Name: prefix + "zeroed", Section: ".bss", Value: 0},
			{Name: "__imp_puts", Section: testutil.SectionUndef},
			{Name: "abs", Section: testutil.SectionAbs, Value: 3},
		})
}

func extract(t *testing.T, data []byte, opts *Options) (*Result, error) {
	t.Helper()
	return New(opts).Extract(context.Background(), data)
}

func TestDetect(t *testing.T) {
	dos := make([]byte, 128)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)

	tests := []struct {
		name    string
		data    []byte
		want    model.Format
		wantErr *apperrors.AppError
	}{
		{"ELF", elfFixture().Data, model.FormatELF, nil},
		{"MachO", machoFixture().Data, model.FormatMachO, nil},
		{"Fat", testutil.Fat(testutil.FatSlice{CPU: 0x01000007, Data: machoFixture().Data}), model.FormatMachOFat, nil},
		{"Fat64", testutil.Fat64(testutil.FatSlice{CPU: 0x01000007, Data: machoFixture().Data}), model.FormatMachOFat, nil},
		{"PE", peFixture(testutil.PE64, "").Data, model.FormatPE, nil},
		{"Empty", nil, model.FormatUnknown, apperrors.ErrUnsupportedFormat},
		{"Short", []byte{0x7f, 'E'}, model.FormatUnknown, apperrors.ErrUnsupportedFormat},
		{"Text", []byte("hello, world"), model.FormatUnknown, apperrors.ErrUnsupportedFormat},
		{"DOSExecutable", dos, model.FormatUnknown, apperrors.ErrUnsupportedFormat},
		{"JavaClass", []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34}, model.FormatUnknown, apperrors.ErrUnsupportedFormat},
		{"DOSHeaderCut", []byte("MZ\x90\x00\x03\x00"), model.FormatPE, apperrors.ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_RandomBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		data := make([]byte, 64+rng.Intn(512))
		rng.Read(data)
		// Keep clear of real magics.
		data[0] = 0x00

		res, err := extract(t, data, nil)
		assert.Nil(t, res)
		assert.True(t, apperrors.IsUnsupportedFormat(err), "iteration %d: %v", i, err)
	}
}

func TestExtract_ELF(t *testing.T) {
	res, err := extract(t, elfFixture().Data, nil)
	require.NoError(t, err)
	assert.Equal(t, model.FormatELF, res.Format)
	assert.Equal(t, "EM_X86_64", res.Arch)

	assert.Equal(t, []rec{
		{"main", 0x20, ".text", 0},
		{"helper", 0, ".text", 1},
		{"counter", 8, ".data", 2},
		{"buf", 16, ".bss", 3},
		{"common_buf", 4, "COMMON", 8},
		{"tls_var", 4, ".data", 9},
		{"_ZN3foo3barEv", 0x10, ".text", 10},
	}, simplify(res.Records))
}

func TestExtract_ELFErrors(t *testing.T) {
	t.Run("SectionTableCut", func(t *testing.T) {
		img := elfFixture()
		res, err := extract(t, img.Data[:img.SectionTable+10], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)

		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, int64(img.SectionTable), fe.Offset)
		assert.Contains(t, err.Error(), "section header table")
	})

	t.Run("HeaderCut", func(t *testing.T) {
		res, err := extract(t, elfFixture().Data[:40], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("SectionPastEOF", func(t *testing.T) {
		img := elfFixture()
		binary.LittleEndian.PutUint64(img.Data[img.SectionHeaders[0]+24:], 1<<40)
		res, err := extract(t, img.Data, nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
		assert.False(t, apperrors.IsTruncated(err))
	})

	t.Run("BadClass", func(t *testing.T) {
		img := elfFixture()
		img.Data[4] = 9
		_, err := extract(t, img.Data, nil)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})

	t.Run("SymbolSectionOutOfRange", func(t *testing.T) {
		img := elfFixture()
		// First real symbol follows the null entry.
		binary.LittleEndian.PutUint16(img.Data[img.SymbolTable+24+6:], 200)
		res, err := extract(t, img.Data, nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})
}

func TestExtract_ParallelMatchesSequential(t *testing.T) {
	syms := make([]testutil.Sym, 0, 500)
	for i := 0; i < 500; i++ {
		syms = append(syms, testutil.Sym{
			Name:    fmt.Sprintf("fn_%03d", i),
			Section: ".text",
			Value:   0x1000 + uint64(i)*16,
			Size:    uint64(i % 17),
			Kind:    testutil.KindFunc,
		})
		if i%50 == 0 {
			syms = append(syms, testutil.Sym{Name: fmt.Sprintf("ext_%d", i)})
		}
	}
	img := testutil.ELF64([]testutil.Section{{Name: ".text", Addr: 0x1000, Size: 0x2000}}, syms)

	seq, err := extract(t, img.Data, nil)
	require.NoError(t, err)
	par, err := extract(t, img.Data, &Options{Workers: 4, ParallelThreshold: 10, ChunkSize: 7})
	require.NoError(t, err)

	assert.Len(t, seq.Records, 500)
	assert.Equal(t, simplify(seq.Records), simplify(par.Records))
	for i := 1; i < len(par.Records); i++ {
		assert.Less(t, par.Records[i-1].Index, par.Records[i].Index)
	}
}

func TestExtract_MachO(t *testing.T) {
	want := []rec{
		{"main", 0x40, "__TEXT,__text", 0},
		{"helper", 0xc0, "__TEXT,__text", 1},
		{"helper_alias", 0, "__TEXT,__text", 2},
		{"table", 0x40, "__TEXT,__const", 3},
		{"counter", 0x10, "__DATA,__data", 4},
		{"last", 0x20, "__DATA,__data", 5},
		{"buf", 0x20, "__DATA,__bss", 6},
	}

	t.Run("Thin", func(t *testing.T) {
		res, err := extract(t, machoFixture().Data, nil)
		require.NoError(t, err)
		assert.Equal(t, model.FormatMachO, res.Format)
		assert.Equal(t, want, simplify(res.Records))
	})

	t.Run("Fat", func(t *testing.T) {
		other := testutil.MachO64([]testutil.Section{{Segment: "__TEXT", Name: "__text", Addr: 0, Size: 8}},
			[]testutil.Sym{{Name: "_other", Section: "__text"}})
		data := testutil.Fat(
			testutil.FatSlice{CPU: 0x01000007, Data: machoFixture().Data},
			testutil.FatSlice{CPU: 0x0100000c, Data: other.Data},
		)
		res, err := extract(t, data, nil)
		require.NoError(t, err)
		assert.Equal(t, model.FormatMachOFat, res.Format)
		assert.Equal(t, "CpuAmd64", res.Arch)
		assert.Equal(t, want, simplify(res.Records))
	})

	t.Run("Fat64", func(t *testing.T) {
		data := testutil.Fat64(
			testutil.FatSlice{CPU: 0x0100000c, Data: machoFixture().Data},
			testutil.FatSlice{CPU: 0x01000007, Data: machoFixture().Data},
		)
		res, err := extract(t, data, nil)
		require.NoError(t, err)
		assert.Equal(t, model.FormatMachOFat, res.Format)
		assert.Equal(t, "CpuArm64", res.Arch)
		assert.Equal(t, want, simplify(res.Records))
	})

	t.Run("ParallelSizes", func(t *testing.T) {
		res, err := extract(t, machoFixture().Data, &Options{ParallelThreshold: 1, Workers: 3})
		require.NoError(t, err)
		assert.Equal(t, want, simplify(res.Records))
	})
}

func TestExtract_MachOErrors(t *testing.T) {
	t.Run("SymbolTableCut", func(t *testing.T) {
		img := machoFixture()
		res, err := extract(t, img.Data[:img.SymbolTable+5], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("LoadCommandsCut", func(t *testing.T) {
		res, err := extract(t, machoFixture().Data[:60], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("SectionPastEOF", func(t *testing.T) {
		img := machoFixture()
		binary.LittleEndian.PutUint32(img.Data[img.SectionHeaders[0]+48:], 0xfffffff0)
		res, err := extract(t, img.Data, nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})

	t.Run("BadSectionOrdinal", func(t *testing.T) {
		img := machoFixture()
		img.Data[img.SymbolTable+5] = 99
		res, err := extract(t, img.Data, nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})

	t.Run("BadCommandSize", func(t *testing.T) {
		img := machoFixture()
		binary.LittleEndian.PutUint32(img.Data[32+4:], 4)
		_, err := extract(t, img.Data, nil)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})

	t.Run("FatSliceCut", func(t *testing.T) {
		data := testutil.Fat(testutil.FatSlice{CPU: 0x01000007, Data: machoFixture().Data})
		res, err := extract(t, data[:len(data)-10], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("FatSliceNotMachO", func(t *testing.T) {
		data := testutil.Fat(testutil.FatSlice{CPU: 0x01000007, Data: make([]byte, 64)})
		_, err := extract(t, data, nil)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})
}

func TestExtract_PE(t *testing.T) {
	want := []rec{
		{"main", 0x80, ".text", 1},
		{"a_rather_long_function_name", 0x80, ".text", 2},
		{"static_helper", 0, ".text", 3},
		{"counter", 0x30, ".data", 4},
		{"zeroed", 0x10, ".bss", 5},
	}

	t.Run("AMD64", func(t *testing.T) {
		res, err := extract(t, peFixture(testutil.PE64, "").Data, nil)
		require.NoError(t, err)
		assert.Equal(t, model.FormatPE, res.Format)
		assert.Equal(t, "amd64", res.Arch)
		assert.Equal(t, want, simplify(res.Records))
	})

	t.Run("I386StripsUnderscore", func(t *testing.T) {
		res, err := extract(t, peFixture(testutil.PE32, "_").Data, nil)
		require.NoError(t, err)
		assert.Equal(t, "386", res.Arch)
		assert.Equal(t, want, simplify(res.Records))
	})
}

func TestExtract_PEErrors(t *testing.T) {
	t.Run("StringTableCut", func(t *testing.T) {
		img := peFixture(testutil.PE64, "")
		res, err := extract(t, img.Data[:img.StringTable+2], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("SectionTableCut", func(t *testing.T) {
		img := peFixture(testutil.PE64, "")
		res, err := extract(t, img.Data[:img.SectionTable+50], nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrTruncated)
	})

	t.Run("RawDataPastEOF", func(t *testing.T) {
		img := peFixture(testutil.PE64, "")
		binary.LittleEndian.PutUint32(img.Data[img.SectionHeaders[1]+20:], 0x7ffffff0)
		res, err := extract(t, img.Data, nil)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrMalformed)
	})
}

func TestExtract_ForcedFormat(t *testing.T) {
	res, err := extract(t, elfFixture().Data, &Options{Format: model.FormatPE})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)

	res, err = extract(t, elfFixture().Data, &Options{Format: model.FormatELF})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Records)
}

func TestExtract_NM(t *testing.T) {
	listing := "" +
		"0000000000001139 000000000000001f T main\n" +
		"0000000000004010 B __bss_start\n" +
		"                 U puts@GLIBC_2.2.5\n" +
		"0000000000002000 0000000000000004 R _IO_stdin_used\r\n" +
		"0000000000001160 0000000000000010 t foo(int, char const*)\n" +
		"0000000000004020 0000000000000008 b completed.0\n" +
		"0000000000004018 0000000000000000 D __dso_handle\n" +
		"0000000000000000 0000000000000008 U sized_import\n" +
		"0000000000004030 0000000000000010 u _ZZ4mainE5guard\n" +
		"\n"

	res, err := extract(t, []byte(listing), &Options{Format: model.FormatNM})
	require.NoError(t, err)
	assert.Equal(t, model.FormatNM, res.Format)
	assert.Equal(t, []rec{
		{"main", 0x1f, ".text", 0},
		{"_IO_stdin_used", 4, ".rodata", 1},
		{"foo(int, char const*)", 0x10, ".text", 2},
		{"completed.0", 8, ".bss", 3},
		{"__dso_handle", 0, ".data", 4},
		{"_ZZ4mainE5guard", 0x10, ".data", 5},
	}, simplify(res.Records))

	_, err = extract(t, []byte("0000 zz T main\n"), &Options{Format: model.FormatNM})
	assert.ErrorIs(t, err, apperrors.ErrMalformed)
}

func TestFormatError(t *testing.T) {
	err := truncated(model.FormatELF, 0x40, "section header table of 640 bytes", "100 bytes")
	assert.Equal(t, "elf: truncated artifact at offset 0x40: expected section header table of 640 bytes, found 100 bytes", err.Error())
	assert.Equal(t, apperrors.CodeTruncated, apperrors.GetErrorCode(err))
	assert.True(t, apperrors.IsExtractionError(err))

	moved := shifted(err, 0x1000)
	var fe *FormatError
	require.ErrorAs(t, moved, &fe)
	assert.Equal(t, int64(0x1040), fe.Offset)
	assert.Equal(t, int64(0x40), err.Offset)
}
