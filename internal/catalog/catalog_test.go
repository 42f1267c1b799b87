package catalog

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"class-index/internal/annotation"
	"class-index/internal/index"
)

type fakeRoot struct {
	name  string
	files map[string]string
}

type fakeClasspath struct {
	roots   []fakeRoot
	opens   atomic.Int32
	closes  atomic.Int32
	listErr map[string]error
	openErr map[string]error
}

func (f *fakeClasspath) Resources(name string) ([]Resource, error) {
	if err := f.listErr[name]; err != nil {
		return nil, err
	}
	var out []Resource
	for _, root := range f.roots {
		body, ok := root.files[name]
		if !ok {
			continue
		}
		key := root.name + "!/" + name
		out = append(out, Resource{Root: root.name, Name: name, Open: func() (io.ReadCloser, error) {
			if err := f.openErr[key]; err != nil {
				return nil, err
			}
			f.opens.Add(1)
			return &trackedReader{Reader: bytes.NewReader([]byte(body)), closes: &f.closes}, nil
		}})
	}
	return out, nil
}

type trackedReader struct {
	*bytes.Reader
	closes *atomic.Int32
}

func (r *trackedReader) Close() error {
	r.closes.Add(1)
	return nil
}

func current(lines ...string) string {
	var b bytes.Buffer
	for _, c := range lines {
		b.WriteString(`{"class":"` + c + `","values":{}}` + "\n")
	}
	return b.String()
}

func classesOf(recs []annotation.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Class
	}
	return out
}

const typ = "org.example.Plugin"

func threeRoots() *fakeClasspath {
	return &fakeClasspath{roots: []fakeRoot{
		{name: "one.jar", files: map[string]string{
			index.FragmentPath(typ):       current("x.A1", "x.A2"),
			index.LegacyFragmentPath(typ): "x.A1\nx.Stale\n",
		}},
		{name: "two.jar", files: map[string]string{
			index.FragmentPath(typ): current("x.B1"),
		}},
		{name: "three.jar", files: map[string]string{
			index.LegacyFragmentPath(typ): "# old\nx.C1 {\"n\":1}\n",
		}},
	}}
}

func TestLoadFlattensRootsInOrder(t *testing.T) {
	cp := threeRoots()
	recs, err := Records(typ, cp)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.A1", "x.A2", "x.B1", "x.C1"}, classesOf(recs))

	n, _ := recs[3].Values.Get("n")
	assert.Equal(t, annotation.Int(1), n)
	assert.Equal(t, cp.opens.Load(), cp.closes.Load())
}

func TestLoadIsLazy(t *testing.T) {
	cp := threeRoots()
	it, err := Load(typ, cp)
	require.NoError(t, err)
	assert.Zero(t, cp.opens.Load())

	require.True(t, it.Next())
	assert.Equal(t, "x.A1", it.Record().Class)
	assert.EqualValues(t, 1, cp.opens.Load())

	require.NoError(t, it.Close())
	assert.False(t, it.Next())
	assert.EqualValues(t, 1, cp.closes.Load())
}

func TestAllStopsEarly(t *testing.T) {
	cp := threeRoots()
	it, err := Load(typ, cp)
	require.NoError(t, err)
	for rec := range it.All() {
		assert.Equal(t, "x.A1", rec.Class)
		break
	}
	assert.Equal(t, cp.opens.Load(), cp.closes.Load())
}

func TestBadFragmentsAreSkipped(t *testing.T) {
	cp := &fakeClasspath{
		roots: []fakeRoot{
			{name: "corrupt.jar", files: map[string]string{index.FragmentPath(typ): current("x.Before") + "null\n"}},
			{name: "locked.jar", files: map[string]string{index.FragmentPath(typ): current("x.Never")}},
			{name: "fine.jar", files: map[string]string{index.FragmentPath(typ): current("x.Fine")}},
			{name: "junk.jar", files: map[string]string{index.LegacyFragmentPath(typ): "not a {class\n"}},
		},
		openErr: map[string]error{"locked.jar!/" + index.FragmentPath(typ): errors.New("permission denied")},
	}
	recs, err := Records(typ, cp)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.Before", "x.Fine"}, classesOf(recs))
}

func TestEnumerationFailure(t *testing.T) {
	cp := &fakeClasspath{listErr: map[string]error{index.FragmentPath(typ): errors.New("classpath gone")}}
	_, err := Load(typ, cp)
	assert.ErrorContains(t, err, "classpath gone")

	cp = &fakeClasspath{
		roots:   []fakeRoot{{name: "a", files: map[string]string{index.FragmentPath(typ): current("x.A")}}},
		listErr: map[string]error{index.LegacyFragmentPath(typ): errors.New("legacy listing broken")},
	}
	recs, err := Records(typ, cp)
	require.NoError(t, err, "legacy enumeration failures only lose legacy records")
	assert.Equal(t, []string{"x.A"}, classesOf(recs))
}

func TestNoFragments(t *testing.T) {
	recs, err := Records(typ, &fakeClasspath{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCacheSharesLoads(t *testing.T) {
	cp := threeRoots()
	c, err := NewCache(cp, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := c.Records(typ)
			assert.NoError(t, err)
			assert.Len(t, recs, 4)
		}()
	}
	wg.Wait()
	opened := cp.opens.Load()
	assert.LessOrEqual(t, opened, int32(8*3))

	_, err = c.Records(typ)
	require.NoError(t, err)
	assert.Equal(t, opened, cp.opens.Load(), "cached")
	assert.Equal(t, 1, c.Len())

	c.Purge()
	_, err = c.Records(typ)
	require.NoError(t, err)
	assert.Equal(t, opened+3, cp.opens.Load())
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	cp := &fakeClasspath{listErr: map[string]error{index.FragmentPath(typ): errors.New("boom")}}
	c, err := NewCache(ResolverFunc(cp.Resources), 0)
	require.NoError(t, err)
	_, err = c.Records(typ)
	require.Error(t, err)
	assert.Zero(t, c.Len())
}
