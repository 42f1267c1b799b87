package classpath

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"class-index/internal/catalog"
	"class-index/internal/index"
	"class-index/internal/ziputil"
)

func writeJar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		require.NoError(t, ziputil.WriteFile(zw, name, []byte(body)))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeDir(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func read(t *testing.T, r catalog.Resource) string {
	t.Helper()
	rc, err := r.Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

const typ = "org.example.Plugin"

func record(class string) string { return `{"class":"` + class + `","values":{}}` + "\n" }

func fixture(t *testing.T) *Path {
	tmp := t.TempDir()
	classes := filepath.Join(tmp, "classes")
	writeDir(t, classes, map[string]string{
		index.FragmentPath(typ): record("app.Main"),
		"app/Main.class":        "x",
	})
	lib := filepath.Join(tmp, "lib.jar")
	writeJar(t, lib, map[string]string{
		index.FragmentPath(typ):       record("lib.Ext"),
		index.LegacyFragmentPath(typ): "lib.Ext\n",
	})
	old := filepath.Join(tmp, "old.jar")
	writeJar(t, old, map[string]string{
		index.LegacyFragmentPath(typ): "old.Thing\n",
	})
	broken := filepath.Join(tmp, "broken.jar")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0o644))

	return New([]string{classes, filepath.Join(tmp, "missing"), broken, lib, old})
}

func TestResources(t *testing.T) {
	p := fixture(t)
	res, err := p.Resources(index.FragmentPath(typ))
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, p.Roots()[0], res[0].Root)
	assert.Equal(t, record("app.Main"), read(t, res[0]))
	assert.Equal(t, p.Roots()[3], res[1].Root)
	assert.Equal(t, record("lib.Ext"), read(t, res[1]))

	none, err := p.Resources("META-INF/json/nothing.Here")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCatalogOverClasspath(t *testing.T) {
	recs, err := catalog.Records(typ, fixture(t))
	require.NoError(t, err)
	var got []string
	for _, r := range recs {
		got = append(got, r.Class)
	}
	assert.Equal(t, []string{"app.Main", "lib.Ext", "old.Thing"}, got)
}

func TestList(t *testing.T) {
	p := fixture(t)
	res, err := p.List(index.Prefix)
	require.NoError(t, err)
	var names []string
	for _, r := range res {
		names = append(names, filepath.Base(r.Root)+":"+r.Name)
	}
	assert.Equal(t, []string{
		"classes:" + index.FragmentPath(typ),
		"lib.jar:" + index.FragmentPath(typ),
	}, names)

	all, err := p.List("")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestParse(t *testing.T) {
	p := Parse("a" + string(os.PathListSeparator) + string(os.PathListSeparator) + "b.jar")
	assert.Equal(t, []string{"a", "b.jar"}, p.Roots())
}
