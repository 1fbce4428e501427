package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizemap/pkg/model"
)

func TestResolver_Resolve(t *testing.T) {
	r := New(nil)

	tests := []struct {
		name string
		raw  string
		want model.SymbolPath
	}{
		{"PlainC", "main", model.SymbolPath{"main"}},
		{"Empty", "", model.SymbolPath{Anonymous}},
		{"AlreadyScoped", "crate::mod::f", model.SymbolPath{"crate", "mod", "f"}},
		{"CppFunction", "_ZN3foo3barEv", model.SymbolPath{"foo", "bar()"}},
		{"CppMachOPrefix", "__ZN3foo3barEi", model.SymbolPath{"foo", "bar(int)"}},
		{"CppTemplateClass", "_ZNSt6vectorIiSaIiEE9push_backERKi",
			model.SymbolPath{"std", "vector<int, std::allocator<int> >", "push_back(int const&)"}},
		{"CppTemplateFunction", "_ZN2ns1fIiEEvT_", model.SymbolPath{"ns", "f<int>(int)"}},
		{"CppAnonymousNamespace", "_ZN12_GLOBAL__N_13fooEv", model.SymbolPath{"(anonymous namespace)", "foo()"}},
		{"CppOperator", "_ZN3fooltERKS_S1_", model.SymbolPath{"foo", "operator<(foo const&, foo const&)"}},
		{"RustLegacy", "_ZN4core3fmt5write17h5ab5a92a58f7ce46E", model.SymbolPath{"core", "fmt", "write"}},
		{"RustLegacyEscapes", "_ZN58_$LT$alloc..string..String$u20$as$u20$core..fmt..Debug$GT$3fmt17h5a1b2c3d4e5f6789E",
			model.SymbolPath{"<alloc::string::String as core::fmt::Debug>", "fmt"}},
		{"RustV0Path", "_RNvNtCs1234_7mycrate3mod3foo", model.SymbolPath{"mycrate", "mod", "foo"}},
		{"RustV0InherentImpl", "_RNvMNtCs1234_7mycrate3modNtB2_6Struct3new",
			model.SymbolPath{"<mycrate::mod::Struct>", "new"}},
		{"MSVCMethod", "?push@Stack@util@@QEAAXH@Z", model.SymbolPath{"util", "Stack", "push"}},
		{"MSVCConstructor", "??0Widget@ui@@QEAA@XZ", model.SymbolPath{"ui", "Widget", "Widget"}},
		{"MSVCDestructor", "??1Widget@ui@@QEAA@XZ", model.SymbolPath{"ui", "Widget", "~Widget"}},
		{"MSVCTemplateFallsBack", "??$max@H@std@@YAHHH@Z", model.SymbolPath{"??$max@H@std@@YAHHH@Z"}},
		{"NotActuallyMangled", "_Z!!", model.SymbolPath{"_Z!!"}},
		{"DottedWithoutGoMode", "completed.0", model.SymbolPath{"completed.0"}},
		{"OnlySeparators", "::::", model.SymbolPath{"::::"}},
		{"LeadingSeparator", "::global", model.SymbolPath{"global"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve([]byte(tt.raw)))
		})
	}
}

func TestResolver_Simplify(t *testing.T) {
	r := New(&Options{Simplify: true, KeepParams: true})
	assert.Equal(t, model.SymbolPath{"std", "vector", "push_back(int const&)"},
		r.Resolve([]byte("_ZNSt6vectorIiSaIiEE9push_backERKi")))

	r = New(&Options{KeepParams: false})
	assert.Equal(t, model.SymbolPath{"foo", "bar"}, r.Resolve([]byte("_ZN3foo3barEi")))
}

func TestResolver_Go(t *testing.T) {
	r := New(&Options{Go: true, KeepParams: true})

	tests := []struct {
		raw  string
		want model.SymbolPath
	}{
		{"main.main", model.SymbolPath{"main", "main"}},
		{"runtime.mallocgc", model.SymbolPath{"runtime", "mallocgc"}},
		{"net/http.(*Server).Serve.func1", model.SymbolPath{"net", "http", "(*Server)", "Serve", "func1"}},
		{"github.com/spf13/cobra.(*Command).Execute", model.SymbolPath{"github.com", "spf13", "cobra", "(*Command)", "Execute"}},
		{"strings.Builder.grow", model.SymbolPath{"strings", "Builder", "grow"}},
		{"main.init.0", model.SymbolPath{"main", "init.0"}},
		{"gopkg.in/yaml%2ev3.Unmarshal", model.SymbolPath{"gopkg.in", "yaml.v3", "Unmarshal"}},
		{"slices.Sort[go.shape.[]int,go.shape.int]", model.SymbolPath{"slices", "Sort[go.shape.[]int,go.shape.int]"}},
		{"type:*main.T", model.SymbolPath{"type:", "*main.T"}},
		{"go:itab.*os.File,io.Writer", model.SymbolPath{"go:", "itab.*os.File,io.Writer"}},
		{"_cgo_topofstack", model.SymbolPath{"_cgo_topofstack"}},
		{"x_cgo_init", model.SymbolPath{"x_cgo_init"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve([]byte(tt.raw)))
		})
	}

	t.Run("GroupStd", func(t *testing.T) {
		r := New(&Options{Go: true, GroupStd: true})
		assert.Equal(t, model.SymbolPath{"std", "net", "http", "Get"}, r.Resolve([]byte("net/http.Get")))
		assert.Equal(t, model.SymbolPath{"github.com", "x", "y", "F"}, r.Resolve([]byte("github.com/x/y.F")))
	})

	t.Run("SimplifyGenerics", func(t *testing.T) {
		r := New(&Options{Go: true, Simplify: true})
		assert.Equal(t, model.SymbolPath{"slices", "Sort[...]"}, r.Resolve([]byte("slices.Sort[go.shape.[]int,go.shape.int]")))
	})
}

func TestResolver_Sanitize(t *testing.T) {
	r := New(nil)

	got := r.Resolve([]byte("bad\xffname\x01"))
	require.Len(t, got, 1)
	assert.Equal(t, "bad�name�", got[0])

	got = r.Resolve([]byte("ns::\xfe\xfe::leaf"))
	assert.Equal(t, model.SymbolPath{"ns", "��", "leaf"}, got)
}

func TestResolver_Total(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := New(&Options{Go: true, GroupStd: true, Simplify: true})
	prefixes := []string{"", "_Z", "_ZN", "__Z", "_R", "?", "??0", "::", "a.b", "x/y."}

	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(40))
		rng.Read(buf)
		raw := append([]byte(prefixes[i%len(prefixes)]), buf...)

		path := r.Resolve(raw)
		require.NotEmpty(t, path, "input %q", raw)
		for _, seg := range path {
			require.NotEmpty(t, seg, "input %q", raw)
			require.True(t, utf8.ValidString(seg), "input %q", raw)
		}
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	recs := make([]model.SymbolRecord, 300)
	for i := range recs {
		recs[i] = model.SymbolRecord{Name: []byte(fmt.Sprintf("ns%d::f", i%7)), Size: uint64(i), Index: i}
	}

	seq, err := New(nil).ResolveAll(context.Background(), recs)
	require.NoError(t, err)
	par, err := New(&Options{KeepParams: true, ParallelThreshold: 10, Workers: 4}).ResolveAll(context.Background(), recs)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	for i, p := range par {
		assert.Equal(t, uint64(i), p.Size)
		assert.Equal(t, fmt.Sprintf("ns%d", i%7), p.Path[0])
	}
}

func TestIsGoBinary(t *testing.T) {
	assert.True(t, IsGoBinary([]model.SymbolRecord{{Name: []byte("main.main")}, {Name: []byte("runtime.main")}}))
	assert.False(t, IsGoBinary([]model.SymbolRecord{{Name: []byte("main")}, {Name: []byte("_ZN3foo3barEv")}}))
}

func TestSplitScoped(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a::b::c", []string{"a", "b", "c"}},
		{"a<b::c>::d", []string{"a<b::c>", "d"}},
		{"f(x::y)::{lambda()#1}::operator()() const", []string{"f(x::y)", "{lambda()#1}", "operator()() const"}},
		{"ns::operator<<(std::ostream&)", []string{"ns", "operator<<(std::ostream&)"}},
		{"<fn() -> u8 as core::ops::Fn>::call", []string{"<fn() -> u8 as core::ops::Fn>", "call"}},
		{"noscope", []string{"noscope"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitScoped(tt.in))
		})
	}

	assert.Equal(t, "ns::f<int>(int)", stripReturnType("void ns::f<int>(int)"))
	assert.Equal(t, "ns::f(int) const", stripReturnType("ns::f(int) const"))
	assert.True(t, strings.HasPrefix(stripReturnType("(anonymous namespace)::g()"), "(anonymous"))
}
