package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"class-index/internal/annotation"
	"class-index/internal/classfile"
	cft "class-index/internal/classfile/classfiletest"
	"class-index/internal/codec"
)

// memStorage keeps fragments in memory and counts rewrites.
type memStorage struct {
	mu        sync.Mutex
	files     map[string][]byte
	writes    map[string]int
	obsolete  map[string]bool
	readErr   map[string]error
	writeErr  map[string]error
	abortions int
}

func newMemStorage() *memStorage {
	return &memStorage{
		files:    map[string][]byte{},
		writes:   map[string]int{},
		obsolete: map[string]bool{},
		readErr:  map[string]error{},
		writeErr: map[string]error{},
	}
}

func (m *memStorage) OpenRead(typ string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr[typ]; err != nil {
		return nil, err
	}
	b, ok := m.files[typ]
	if !ok {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStorage) OpenWrite(typ string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[typ]; err != nil {
		return nil, err
	}
	return &memWriter{st: m, typ: typ}, nil
}

func (m *memStorage) IsClassObsolete(class string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.obsolete[class]
}

func (m *memStorage) put(typ string, recs ...annotation.Record) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			panic(err)
		}
	}
	if err := enc.Flush(); err != nil {
		panic(err)
	}
	m.files[typ] = buf.Bytes()
}

func (m *memStorage) read(t *testing.T, typ string) []annotation.Record {
	t.Helper()
	b, ok := m.files[typ]
	require.True(t, ok, "no fragment for %s", typ)
	dec := codec.NewDecoder(bytes.NewReader(b), typ)
	var out []annotation.Record
	for {
		r, err := dec.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, r)
	}
}

type memWriter struct {
	bytes.Buffer
	st  *memStorage
	typ string
}

func (w *memWriter) Close() error {
	w.st.mu.Lock()
	defer w.st.mu.Unlock()
	w.st.files[w.typ] = bytes.Clone(w.Bytes())
	w.st.writes[w.typ]++
	return nil
}

func (w *memWriter) Abort() error {
	w.st.mu.Lock()
	defer w.st.mu.Unlock()
	w.st.abortions++
	return nil
}

func rec(class string, kv ...any) annotation.Record {
	m := annotation.NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(annotation.Value))
	}
	return annotation.Record{Class: class, Values: m}
}

func classes(recs []annotation.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Class
	}
	return out
}

func TestMergeWithoutFragmentIsNoop(t *testing.T) {
	st := newMemStorage()
	b := NewBuilder()

	needs, err := b.Merge(st, "a.A")
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Empty(t, b.Types())

	b.Add(annotation.NewMap(), "a.A", "x.X")
	needs, err = b.Merge(st, "a.A")
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, []string{"x.X"}, classes(b.Records("a.A")))
}

func TestMergeIsIdempotentOnUnchangedFragment(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.One", "n", annotation.Int(1)), rec("x.Two"))
	b := NewBuilder()

	for i := 0; i < 2; i++ {
		needs, err := b.Merge(st, "a.A")
		require.NoError(t, err)
		assert.False(t, needs, "merge #%d", i+1)
		assert.Empty(t, b.Types(), "merge #%d", i+1)
	}

	require.NoError(t, b.Write(st))
	assert.Zero(t, st.writes["a.A"])
}

func TestMergeFreshIdenticalRecordsLeaveFragmentAlone(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.One", "n", annotation.Int(1)), rec("x.Two"))
	b := NewBuilder()
	b.Add(annotation.NewMap().Set("n", annotation.Int(1)), "a.A", "x.One")

	needs, err := b.Merge(st, "a.A")
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestMergeDetectsChangedValues(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.One", "n", annotation.Int(1)), rec("x.Two"))
	b := NewBuilder()
	b.Add(annotation.NewMap().Set("n", annotation.Int(2)), "a.A", "x.One")

	require.NoError(t, b.Write(st))
	got := st.read(t, "a.A")
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(rec("x.One", "n", annotation.Int(2))))
	assert.True(t, got[1].Equal(rec("x.Two")))
}

func TestMergeDetectsNewClass(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.One"))
	b := NewBuilder()
	b.Add(annotation.NewMap(), "a.A", "x.Zero")

	require.NoError(t, b.Write(st))
	assert.Equal(t, []string{"x.One", "x.Zero"}, classes(st.read(t, "a.A")))
}

func TestObsoleteRecordsArePruned(t *testing.T) {
	const n, m = 6, 2
	st := newMemStorage()
	var recs []annotation.Record
	for i := 0; i < n; i++ {
		recs = append(recs, rec(fmt.Sprintf("x.C%d", i)))
	}
	st.put("a.A", recs...)
	for i := 0; i < m; i++ {
		st.obsolete[fmt.Sprintf("x.C%d", i*2)] = true
	}

	b := NewBuilder()
	needs, err := b.Merge(st, "a.A")
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, b.Write(st))
	got := st.read(t, "a.A")
	assert.Len(t, got, n-m)
	assert.Equal(t, []string{"x.C1", "x.C3", "x.C4", "x.C5"}, classes(got))
}

func TestAllRecordsObsoleteWritesEmptyFragment(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.Gone"))
	st.obsolete["x.Gone"] = true

	b := NewBuilder()
	require.NoError(t, b.Write(st))
	assert.Zero(t, st.writes["a.A"], "types without fresh records are not visited by Write")

	needs, err := b.Merge(st, "a.A")
	require.NoError(t, err)
	assert.True(t, needs)
	require.NoError(t, b.Write(st))
	assert.Equal(t, 1, st.writes["a.A"])
	assert.Empty(t, st.read(t, "a.A"))
}

func TestMergeObsoleteAndFreshInteraction(t *testing.T) {
	st := newMemStorage()
	a := rec("x.A", "v", annotation.String("a"))
	c := rec("x.C", "v", annotation.String("c"))
	st.put("a.T", a, rec("x.B", "v", annotation.String("b")), c)
	st.obsolete["x.B"] = true

	b := NewBuilder()
	b.Add(annotation.NewMap().Set("v", annotation.String("a")), "a.T", "x.A")

	needs, err := b.Merge(st, "a.T")
	require.NoError(t, err)
	assert.True(t, needs, "the obsolete B forces a rewrite")

	got := b.Records("a.T")
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(a), "A is the fresh record")
	assert.True(t, got[1].Equal(c), "C is adopted from the fragment")
}

func TestObsoleteBeforeFreshMatchStillRewrites(t *testing.T) {
	st := newMemStorage()
	st.put("a.T", rec("x.B"), rec("x.A"))
	st.obsolete["x.B"] = true

	b := NewBuilder()
	b.Add(annotation.NewMap(), "a.T", "x.A")
	needs, err := b.Merge(st, "a.T")
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, []string{"x.A"}, classes(b.Records("a.T")))
}

func TestDuplicateStoredRecordCountsOnce(t *testing.T) {
	st := newMemStorage()
	st.put("a.T", rec("x.A"), rec("x.A"))

	b := NewBuilder()
	b.Add(annotation.NewMap(), "a.T", "x.A")
	b.Add(annotation.NewMap(), "a.T", "x.New")
	needs, err := b.Merge(st, "a.T")
	require.NoError(t, err)
	assert.True(t, needs, "x.New is not on disk yet")
}

func TestEndToEndFromClassFile(t *testing.T) {
	data := cft.NewClass("org.example.Foo").
		Annotate("org.example.Plugin",
			cft.Pair("type", cft.ClassOf("org.example.Command")),
			cft.Pair("priority", cft.Double(100)),
		).Bytes()
	found, err := classfile.Scan(data)
	require.NoError(t, err)

	b := NewBuilder()
	for typ, values := range found {
		b.Add(values, typ, "org.example.Foo")
	}
	st := newMemStorage()
	require.NoError(t, b.Write(st))

	assert.Equal(t,
		`{"class":"org.example.Foo","values":{"type":"org.example.Command","priority":100.0}}`+"\n",
		string(st.files["org.example.Plugin"]))
	assert.Zero(t, b.Len(), "write drains the session")

	// scanning the same class again is a no-op
	for typ, values := range found {
		b.Add(values, typ, "org.example.Foo")
	}
	require.NoError(t, b.Write(st))
	assert.Equal(t, 1, st.writes["org.example.Plugin"])
}

func TestConcurrentAdd(t *testing.T) {
	b := NewBuilder()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				typ := fmt.Sprintf("a.T%d", i%4)
				b.Add(annotation.NewMap().Set("g", annotation.Int(g)), typ, fmt.Sprintf("x.C%d", i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a.T0", "a.T1", "a.T2", "a.T3"}, b.Types())
	assert.Equal(t, 100, b.Len())
}

func TestCorruptFragmentDoesNotBlockOthers(t *testing.T) {
	st := newMemStorage()
	st.files["a.Bad"] = []byte(`{"class":"x.Old","values":{}}` + "\nnull\n")
	st.put("a.Good", rec("x.Kept"))

	b := NewBuilder()
	b.Add(annotation.NewMap(), "a.Bad", "x.New")
	b.Add(annotation.NewMap(), "a.Good", "x.Fresh")

	require.NoError(t, b.Write(st))
	assert.Equal(t, []string{"x.New", "x.Old"}, classes(st.read(t, "a.Bad")), "records read before the damage survive")
	assert.Equal(t, []string{"x.Fresh", "x.Kept"}, classes(st.read(t, "a.Good")))
}

func TestReadFailureRewritesType(t *testing.T) {
	st := newMemStorage()
	st.readErr["a.A"] = errors.New("disk on fire")
	b := NewBuilder()
	b.Add(annotation.NewMap(), "a.A", "x.X")

	needs, err := b.Merge(st, "a.A")
	assert.True(t, needs)
	assert.ErrorContains(t, err, "disk on fire")

	require.NoError(t, b.Write(st))
	assert.Equal(t, 1, st.writes["a.A"])
	assert.Equal(t, []string{"x.X"}, classes(st.read(t, "a.A")))
}

func TestWriteErrorsAreJoinedPerType(t *testing.T) {
	st := newMemStorage()
	st.writeErr["a.Locked"] = errors.New("read-only")
	b := NewBuilder(WithWorkers(1))
	b.Add(annotation.NewMap(), "a.Locked", "x.X")
	b.Add(annotation.NewMap(), "a.Open", "x.Y")

	err := b.Write(st)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "a.Locked"))
	assert.Equal(t, 1, st.writes["a.Open"])
	assert.Empty(t, b.Types())
}

type weird struct{ annotation.Bool }

func TestUnsupportedRecordIsSkipped(t *testing.T) {
	st := newMemStorage()
	b := NewBuilder()
	b.Add(annotation.NewMap().Set("w", weird{true}), "a.A", "x.Bad")
	b.Add(annotation.NewMap(), "a.A", "x.Good")

	require.NoError(t, b.Write(st))
	assert.Equal(t, []string{"x.Good"}, classes(st.read(t, "a.A")))
}

func TestAddNormalizesClassLiterals(t *testing.T) {
	b := NewBuilder()
	b.Add(annotation.NewMap().Set("t", annotation.ClassRef("x.Cmd")), "a.A", "x.X")
	v, _ := b.Records("a.A")[0].Values.Get("t")
	assert.Equal(t, annotation.String("x.Cmd"), v)
}

func TestTypeFromPath(t *testing.T) {
	typ, legacy, ok := TypeFromPath(FragmentPath("org.example.Plugin"))
	assert.True(t, ok)
	assert.False(t, legacy)
	assert.Equal(t, "org.example.Plugin", typ)

	typ, legacy, ok = TypeFromPath(LegacyFragmentPath("org.example.Plugin"))
	assert.True(t, ok)
	assert.True(t, legacy)
	assert.Equal(t, "org.example.Plugin", typ)

	_, _, ok = TypeFromPath("META-INF/json/")
	assert.False(t, ok)
	_, _, ok = TypeFromPath("META-INF/MANIFEST.MF")
	assert.False(t, ok)
}

func TestTrackPrunesStoredFragment(t *testing.T) {
	st := newMemStorage()
	st.put("a.A", rec("x.Keep"), rec("x.Gone"))
	st.put("b.B", rec("x.Keep"))
	st.obsolete["x.Gone"] = true

	b := NewBuilder()
	b.Track("a.A")
	b.Track("b.B")
	require.NoError(t, b.Write(st))
	assert.Equal(t, []string{"x.Keep"}, classes(st.read(t, "a.A")))
	assert.Equal(t, 1, st.writes["a.A"])
	assert.Zero(t, st.writes["b.B"], "nothing obsolete, nothing to rewrite")
}

func TestScannedNaNIsUnchangedAfterWrite(t *testing.T) {
	cases := map[string]cft.Element{
		"double": cft.Double(math.Float64frombits(0x7ff8000000000000)),
		"float":  cft.Float(math.Float32frombits(0x7fc00000)),
	}
	for name, elem := range cases {
		t.Run(name, func(t *testing.T) {
			found, err := classfile.Scan(cft.NewClass("x.Foo").Annotate("a.P", cft.Pair("w", elem)).Bytes())
			require.NoError(t, err)
			st := newMemStorage()

			b := NewBuilder()
			b.Add(found["a.P"], "a.P", "x.Foo")
			require.NoError(t, b.Write(st))
			require.Equal(t, `{"class":"x.Foo","values":{"w":NaN}}`+"\n", string(st.files["a.P"]))

			b = NewBuilder()
			b.Add(found["a.P"], "a.P", "x.Foo")
			needs, err := b.Merge(st, "a.P")
			require.NoError(t, err)
			assert.False(t, needs)
		})
	}
}
