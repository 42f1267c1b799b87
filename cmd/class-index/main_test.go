package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"class-index/internal/classfile/classfiletest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeClass(t *testing.T, dir, rel string, c *classfiletest.Class) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, c.Bytes(), 0o644))
	return path
}

func project(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	classes := filepath.Join("target", "classes")
	writeClass(t, classes, "org/example/Foo.class",
		classfiletest.NewClass("org.example.Foo").Annotate("org.example.Plugin",
			classfiletest.Pair("type", classfiletest.ClassOf("org.example.Command"))))
	writeClass(t, classes, "org/example/Plugin.class",
		classfiletest.NewClass("org.example.Plugin").AnnotationType().Annotate("org.classindex.Indexable"))
	return classes
}

func TestScanListAndMetrics(t *testing.T) {
	classes := project(t)
	metricsFile := filepath.Join(t.TempDir(), "index.prom")

	out, err := run(t, "scan", classes, "--cache-dir", t.TempDir(), "--log-level", "error", "--metrics-file", metricsFile, "--diff")
	require.NoError(t, err)
	assert.Contains(t, out, `+{"class":"org.example.Foo","values":{"type":"org.example.Command"}}`)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "class_index_fragments_written_total 1")

	out, err = run(t, "list", "org.example.Plugin", "--classpath", classes, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "# org.example.Plugin\n"+
		`{"class":"org.example.Foo","values":{"type":"org.example.Command"}}`+"\n", out)
}

func TestScanDetectsMavenLayout(t *testing.T) {
	project(t)
	require.NoError(t, os.WriteFile("pom.xml", []byte("<project><artifactId>demo</artifactId></project>"), 0o644))

	_, err := run(t, "scan", ".", "--cache-dir", t.TempDir(), "--log-level", "error")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join("target", "classes", "META-INF", "json", "org.example.Plugin"))
	assert.NoError(t, err)
}

func TestConfigFileSuppliesDefaults(t *testing.T) {
	classes := project(t)
	out := filepath.Join(t.TempDir(), "index")
	cfg := "classes: " + classes + "\noutput: " + out + "\ncacheDir: " + t.TempDir() + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(".class-index.yaml", []byte(cfg), 0o644))

	_, err := run(t, "scan")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "META-INF", "json", "org.example.Plugin"))
	assert.NoError(t, err)
}

func TestAggregateIntoJar(t *testing.T) {
	classes := project(t)
	_, err := run(t, "scan", classes, "--cache-dir", t.TempDir(), "--log-level", "error")
	require.NoError(t, err)

	jar := filepath.Join(t.TempDir(), "all.jar")
	_, err = run(t, "aggregate", "--out", jar, classes, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "list", "org.example.Plugin", "--classpath", jar, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "org.example.Foo")
}

func TestAggregateRequiresOut(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "aggregate", "x")
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeClass(t, ".", "Foo.class",
		classfiletest.NewClass("org.example.Foo").Annotate("org.example.Plugin",
			classfiletest.Pair("priority", classfiletest.Double(100)),
			classfiletest.Pair("mode", classfiletest.Enum("org.example.Mode", "FAST"))))
	out, err := run(t, "dump", path)
	require.NoError(t, err)
	assert.Equal(t, "class org.example.Foo\n"+
		`  @org.example.Plugin {"priority":100.0,"mode":{"enum":"org.example.Mode","value":"FAST"}}`+"\n", out)
}

func TestDumpMalformed(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("Bad.class", []byte("nope"), 0o644))
	_, err := run(t, "dump", "Bad.class")
	assert.ErrorContains(t, err, "Bad.class")
}

func TestBadLogLevel(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "dump", "x.class", "--log-level", "loud")
	assert.ErrorContains(t, err, "loud")
}

func TestListWithoutClasspath(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "list", "a.B")
	assert.ErrorContains(t, err, "no classpath")
}

func TestVerify(t *testing.T) {
	classes := project(t)
	_, err := run(t, "scan", classes, "--cache-dir", t.TempDir(), "--log-level", "error")
	require.NoError(t, err)
	_, err = run(t, "verify", classes, "--log-level", "error")
	require.NoError(t, err)

	bad := filepath.Join(classes, "META-INF", "json", "org.example.Broken")
	require.NoError(t, os.WriteFile(bad, []byte(`{"class":"b.B","values":{}}`+"\n"+`{"class":"a.A","values":{}}`+"\n"), 0o644))
	out, err := run(t, "verify", classes, "--log-level", "error")
	assert.ErrorContains(t, err, "1 fragment(s) failed")
	assert.Contains(t, out, "META-INF/json/org.example.Broken")
	assert.Contains(t, out, "out of order after b.B")
}
