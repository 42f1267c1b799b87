// Package meta detects the build tool of a JVM project and where it puts
// compiled classes.
//
// Goals:
//   - Best-effort parsing: tolerate partial/absent files
//   - Deterministic defaults per build tool
package meta

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Info contains a minimal, tool-friendly summary of build metadata.
type Info struct {
	Build      string // "maven"|"gradle"|"" (unknown)
	JDK        string // e.g., "21", "17"
	Module     string // artifact/module name (best-effort)
	ClassesDir string // absolute path of the main compiled-classes directory
}

// Detect collects build metadata by probing common files in the project root.
// Priority (first match wins for Build): Maven > Gradle. An unknown layout
// yields the root itself as ClassesDir, so a classes directory can be passed
// directly.
func Detect(root string) Info {
	absRoot, _ := filepath.Abs(root)

	if p := firstExisting(absRoot, "pom.xml"); p != "" {
		if inf, ok := detectMaven(absRoot, p); ok {
			return inf
		}
	}
	if p := firstExisting(absRoot, "build.gradle", "build.gradle.kts"); p != "" {
		if inf, ok := detectGradle(absRoot, p); ok {
			return inf
		}
	}
	return Info{ClassesDir: absRoot}
}

// ------------------------------ Maven ----------------------------------------

type pomXML struct {
	XMLName    xml.Name `xml:"project"`
	ArtifactID string   `xml:"artifactId"`
	Props      pomProps `xml:"properties"`
	Build      pomBuild `xml:"build"`
}

type pomProps struct {
	Source  string `xml:"maven.compiler.source"`
	Target  string `xml:"maven.compiler.target"`
	Release string `xml:"maven.compiler.release"`
	JavaVer string `xml:"java.version"`
}

type pomBuild struct {
	Directory       string `xml:"directory"`
	OutputDirectory string `xml:"outputDirectory"`
}

func detectMaven(root, pomPath string) (Info, bool) {
	b, err := os.ReadFile(pomPath)
	if err != nil {
		return Info{}, false
	}
	var p pomXML
	if err := xml.Unmarshal(b, &p); err != nil {
		return Info{}, false
	}

	// ${project.build.directory}/classes is the Maven default
	target := firstNonEmpty(p.Build.Directory, "target")
	out := firstNonEmpty(p.Build.OutputDirectory, "${project.build.directory}/classes")
	out = strings.ReplaceAll(out, "${project.build.directory}", target)
	out = strings.ReplaceAll(out, "${project.basedir}", root)
	out = strings.ReplaceAll(out, "${basedir}", root)

	return Info{
		Build:      "maven",
		JDK:        normalizeJDK(firstNonEmpty(p.Props.Release, p.Props.Target, p.Props.Source, p.Props.JavaVer)),
		Module:     firstNonEmpty(p.ArtifactID, filepath.Base(root)),
		ClassesDir: resolve(root, out),
	}, true
}

// ------------------------------ Gradle ---------------------------------------

func detectGradle(root, buildPath string) (Info, bool) {
	b, err := os.ReadFile(buildPath)
	if err != nil {
		return Info{}, false
	}
	text := string(b)

	jdk := ""
	if m := reGradleCompatQuoted.FindStringSubmatch(text); m != nil {
		jdk = normalizeJDK(m[1])
	} else if m := reGradleCompatEnum.FindStringSubmatch(text); m != nil {
		jdk = normalizeJDK(m[1])
	} else if m := reGradleToolchain.FindStringSubmatch(text); m != nil {
		jdk = normalizeJDK(m[1])
	}

	mod := ""
	if p := firstExisting(root, "settings.gradle", "settings.gradle.kts"); p != "" {
		mod = scanSettingsGradleForRootName(p)
	}

	// Kotlin-only projects compile main classes elsewhere
	classes := filepath.Join(root, "build", "classes", "java", "main")
	if kt := filepath.Join(root, "build", "classes", "kotlin", "main"); !existsDir(classes) && existsDir(kt) {
		classes = kt
	}

	return Info{
		Build:      "gradle",
		JDK:        jdk,
		Module:     firstNonEmpty(mod, filepath.Base(root)),
		ClassesDir: classes,
	}, true
}

var (
	reGradleCompatQuoted = regexp.MustCompile(`(?m)^\s*(?:sourceCompatibility|targetCompatibility)\s*=\s*["']?(\d{1,2})["']?`)
	reGradleCompatEnum   = regexp.MustCompile(`(?m)^\s*(?:sourceCompatibility|targetCompatibility)\s*=\s*JavaVersion\.VERSION_(\d{1,2})`)
	reGradleToolchain    = regexp.MustCompile(`languageVersion(?:\.set\(|\s*=\s*)\s*JavaLanguageVersion\.of\((\d{1,2})\)`)
	reGradleRootName     = regexp.MustCompile(`(?m)^\s*rootProject\.name\s*=\s*["']([^"']+)["']`)
)

func scanSettingsGradleForRootName(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if m := reGradleRootName.FindStringSubmatch(string(b)); m != nil {
		return m[1]
	}
	return ""
}

// ---------------------------- helpers ---------------------------------------

func resolve(root, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func firstExisting(root string, names ...string) string {
	for _, n := range names {
		p := filepath.Join(root, n)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

func existsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return ""
}

// normalizeJDK tries to coerce input like "21", "1.8", "17.0.1" into "21"|"17"|"8".
func normalizeJDK(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "1.") && len(s) >= 3 {
		return strings.TrimPrefix(s, "1.")
	}
	out := strings.Builder{}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		out.WriteByte(s[i])
	}
	return out.String()
}
