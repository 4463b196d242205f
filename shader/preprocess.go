package shader

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/gogpu/framegraph/device"
)

// maxIncludeDepth bounds nested #include directives.
const maxIncludeDepth = 16

// Preprocess applies macros to a WGSL source without include support.
//
// Supported directives, each on its own line: #define NAME [value],
// #undef NAME, #ifdef NAME, #ifndef NAME, #if NAME, #else, #endif and
// #include "file" (resolved by a Compiler only). A #if is true when NAME is defined to anything but "0".
// Active lines have every defined identifier replaced by its value;
// identifiers defined without a value are left as is. Directive lines and
// inactive lines become empty so that line numbers in compiler errors still
// match the source.
func Preprocess(src string, macros device.ShaderMacros) (string, error) {
	p := newPreprocessor(nil, macros)
	var b strings.Builder
	if err := p.run(&b, "<source>", src, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

type preprocessor struct {
	fsys    fs.FS
	defines map[string]string
	// files lists every file read, in first-read order.
	files []string
	stack []string
}

func newPreprocessor(fsys fs.FS, macros device.ShaderMacros) *preprocessor {
	defines := make(map[string]string, len(macros))
	for k, v := range macros {
		defines[k] = v
	}
	return &preprocessor{fsys: fsys, defines: defines}
}

func (p *preprocessor) readFile(name string) (string, error) {
	data, err := fs.ReadFile(p.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("shader: read %s: %w", name, err)
	}
	p.files = append(p.files, name)
	return string(data), nil
}

// cond is one level of #if nesting.
type cond struct {
	line     int
	active   bool // lines in the current branch are emitted
	parent   bool // the enclosing level is active
	elseSeen bool
}

func (p *preprocessor) run(b *strings.Builder, name, src string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("%w: %s: includes nested deeper than %d", ErrPreprocess, name, maxIncludeDepth)
	}
	for _, s := range p.stack {
		if s == name {
			return fmt.Errorf("%w: %s: include cycle %s", ErrPreprocess, name, strings.Join(append(p.stack, name), " -> "))
		}
	}
	p.stack = append(p.stack, name)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	var conds []cond
	active := func() bool { return len(conds) == 0 || conds[len(conds)-1].active }
	errf := func(line int, format string, args ...any) error {
		return fmt.Errorf("%w: %s:%d: %s", ErrPreprocess, name, line, fmt.Sprintf(format, args...))
	}

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				b.WriteString(p.substitute(line))
			}
			if i < len(lines)-1 {
				b.WriteByte('\n')
			}
			continue
		}

		directive, arg, _ := strings.Cut(trimmed[1:], " ")
		arg = strings.TrimSpace(arg)
		switch directive {
		case "ifdef", "ifndef", "if":
			if !isIdent(arg) {
				return errf(n, "#%s needs a macro name, got %q", directive, arg)
			}
			v, defined := p.defines[arg]
			var ok bool
			switch directive {
			case "ifdef":
				ok = defined
			case "ifndef":
				ok = !defined
			default:
				ok = defined && v != "0"
			}
			parent := active()
			conds = append(conds, cond{line: n, active: parent && ok, parent: parent})
		case "else":
			if len(conds) == 0 {
				return errf(n, "#else without #if")
			}
			c := &conds[len(conds)-1]
			if c.elseSeen {
				return errf(n, "second #else for #if on line %d", c.line)
			}
			c.elseSeen = true
			c.active = c.parent && !c.active
		case "endif":
			if len(conds) == 0 {
				return errf(n, "#endif without #if")
			}
			conds = conds[:len(conds)-1]
		case "define":
			if !active() {
				break
			}
			key, value, _ := strings.Cut(arg, " ")
			if !isIdent(key) {
				return errf(n, "#define needs a macro name, got %q", key)
			}
			p.defines[key] = strings.TrimSpace(value)
		case "undef":
			if active() {
				delete(p.defines, arg)
			}
		case "include":
			if !active() {
				break
			}
			if p.fsys == nil {
				return errf(n, "#include %s without a source tree", arg)
			}
			file, err := includePath(name, arg)
			if err != nil {
				return errf(n, "%v", err)
			}
			inc, err := p.readFile(file)
			if err != nil {
				return err
			}
			if err := p.run(b, file, strings.TrimSuffix(inc, "\n"), depth+1); err != nil {
				return err
			}
		default:
			return errf(n, "unknown directive #%s", directive)
		}
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	if len(conds) > 0 {
		return errf(conds[len(conds)-1].line, "unterminated #if")
	}
	return nil
}

// includePath resolves a quoted include relative to the including file.
func includePath(from, arg string) (string, error) {
	if len(arg) < 2 || arg[0] != '"' || arg[len(arg)-1] != '"' {
		return "", fmt.Errorf("#include needs a quoted file name, got %s", arg)
	}
	file := path.Join(path.Dir(from), arg[1:len(arg)-1])
	if !fs.ValidPath(file) {
		return "", fmt.Errorf("#include %s leaves the source tree", arg)
	}
	return file, nil
}

// substitute replaces identifiers that have a non-empty definition.
func (p *preprocessor) substitute(line string) string {
	if len(p.defines) == 0 {
		return line
	}
	code, comment, hasComment := strings.Cut(line, "//")
	var b strings.Builder
	for i := 0; i < len(code); {
		if !isIdentStart(code[i]) || (i > 0 && isIdentByte(code[i-1])) {
			b.WriteByte(code[i])
			i++
			continue
		}
		j := i + 1
		for j < len(code) && isIdentByte(code[j]) {
			j++
		}
		word := code[i:j]
		if v, ok := p.defines[word]; ok && v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	if hasComment {
		b.WriteString("//")
		b.WriteString(comment)
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
