package catalog

import (
	"bufio"
	"context"
	"strings"

	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	sectionPrefix       = "-- +migrate"
	sectionUp           = "up"
	sectionDown         = "down"
	sectionIrreversible = "irreversible"
	sectionBlockBegin   = "statementbegin"
	sectionBlockEnd     = "statementend"
)

var (
	ErrUnknownSection     = errors.New("unknown migration section")
	ErrUnbalancedStatement = errors.New("unbalanced StatementBegin and StatementEnd markers")
)

// StatementsUnit runs plain statements read from a .sql or .yml file
type StatementsUnit struct {
	up           []string
	down         []string
	hasUp        bool
	hasDown      bool
	irreversible bool
}

var _ migration.Unit = (*StatementsUnit)(nil)

func (u *StatementsUnit) Up(ctx context.Context, s *migration.Session) error {
	if !u.hasUp {
		return migration.ErrNotImplemented
	}

	return runStatements(ctx, s, u.up)
}

func (u *StatementsUnit) Down(ctx context.Context, s *migration.Session) error {
	if u.irreversible {
		return migration.ErrUnrevertable
	}

	if !u.hasDown {
		return migration.ErrNotImplemented
	}

	return runStatements(ctx, s, u.down)
}

func (u *StatementsUnit) factory() migration.Factory {
	return func() (migration.Unit, error) {
		return u, nil
	}
}

func runStatements(ctx context.Context, s *migration.Session, statements []string) error {
	for _, stmt := range statements {
		if isDataStatement(stmt) {
			if _, err := s.TimedQuery(ctx, stmt); err != nil {
				return err
			}
			continue
		}

		if err := s.TimedExec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func isDataStatement(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToUpper(fields[0]) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return true
	default:
		return false
	}
}

// ParseSQL reads a file divided by `-- +migrate Up` and `-- +migrate Down`
// markers. A file without markers is an up only migration.
// `-- +migrate Irreversible` marks the down direction as unrevertable.
// Lines between `-- +migrate StatementBegin` and `-- +migrate StatementEnd`
// are sent as a single statement and never split.
func ParseSQL(contents string) (*StatementsUnit, error) {
	u := &StatementsUnit{}

	var up, down sqlSection
	var current *sqlSection
	var block *strings.Builder
	sawMarker := false

	scanner := bufio.NewScanner(strings.NewReader(contents))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if section, ok := parseMarker(trimmed); ok {
			switch section {
			case sectionBlockBegin:
				if block != nil {
					return nil, errors.Wrap(ErrUnbalancedStatement, "nested StatementBegin")
				}
				block = new(strings.Builder)
				continue
			case sectionBlockEnd:
				if block == nil {
					return nil, errors.Wrap(ErrUnbalancedStatement, "StatementEnd without StatementBegin")
				}
				if !sawMarker {
					u.hasUp = true
					current = &up
				}
				if current != nil {
					current.add(block.String())
				}
				block = nil
				continue
			}

			if block != nil {
				return nil, errors.Wrapf(ErrUnbalancedStatement, "[%s] inside a statement block", section)
			}

			sawMarker = true

			switch section {
			case sectionUp:
				u.hasUp = true
				current = &up
			case sectionDown:
				u.hasDown = true
				current = &down
			case sectionIrreversible:
				u.irreversible = true
				current = nil
			default:
				return nil, errors.Wrapf(ErrUnknownSection, "[%s]", section)
			}

			continue
		}

		if block != nil {
			block.WriteString(line)
			block.WriteString("\n")
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		if !sawMarker {
			u.hasUp = true
			current = &up
		}

		if current == nil {
			continue
		}

		current.pending.WriteString(line)
		current.pending.WriteString("\n")
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if block != nil {
		return nil, errors.Wrap(ErrUnbalancedStatement, "StatementBegin without StatementEnd")
	}

	u.up = up.statements()
	u.down = down.statements()

	return u, nil
}

// sqlSection keeps statements in file order, plain text is split
// whenever a statement block has to be appended after it
type sqlSection struct {
	pending strings.Builder
	result  []string
}

func (s *sqlSection) flush() {
	s.result = append(s.result, SplitStatements(s.pending.String())...)
	s.pending.Reset()
}

func (s *sqlSection) add(block string) {
	s.flush()

	stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(block), ";"))
	if stmt != "" {
		s.result = append(s.result, stmt)
	}
}

func (s *sqlSection) statements() []string {
	s.flush()
	return s.result
}

func parseMarker(line string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(line), sectionPrefix) {
		return "", false
	}

	rest := strings.TrimSpace(line[len(sectionPrefix):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", true
	}

	return strings.ToLower(fields[0]), true
}

// SplitStatements splits on semicolons outside of quotes, backticks,
// dollar quoted bodies and comments. Comments are dropped, except the
// MySQL /*! */ and /*+ */ forms which the server executes.
func SplitStatements(s string) []string {
	var result []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			result = append(result, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(s); {
		c := s[i]

		switch {
		case c == '\'' || c == '"' || c == '`':
			stop := closingIndex(s, i+1, string(c))
			current.WriteString(s[i:stop])
			i = stop
		case strings.HasPrefix(s[i:], "--"):
			stop := strings.IndexByte(s[i:], '\n')
			if stop < 0 {
				i = len(s)
			} else {
				i += stop
			}
		case strings.HasPrefix(s[i:], "/*"):
			stop := closingIndex(s, i+2, "*/")
			if strings.HasPrefix(s[i:], "/*!") || strings.HasPrefix(s[i:], "/*+") {
				current.WriteString(s[i:stop])
			} else {
				current.WriteByte(' ')
			}
			i = stop
		case c == '$' && dollarTag(s[i:]) != "":
			tag := dollarTag(s[i:])
			stop := closingIndex(s, i+len(tag), tag)
			current.WriteString(s[i:stop])
			i = stop
		case c == ';':
			flush()
			i++
		default:
			current.WriteByte(c)
			i++
		}
	}

	flush()

	return result
}

// closingIndex returns the index right after the first occurrence of
// closer at or after from, or the end of s when it is never closed
func closingIndex(s string, from int, closer string) int {
	n := strings.Index(s[from:], closer)
	if n < 0 {
		return len(s)
	}

	return from + n + len(closer)
}

// dollarTag returns the $tag$ opening a dollar quoted string, $1 style
// placeholders are not tags
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1]
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && j > 1:
		default:
			return ""
		}
	}

	return ""
}

type yamlUnit struct {
	Up           []string `yaml:"up"`
	Down         []string `yaml:"down"`
	Irreversible bool     `yaml:"irreversible"`
}

// ParseYAML reads a unit of the form {up: [...], down: [...], irreversible: bool}
func ParseYAML(contents []byte) (*StatementsUnit, error) {
	var y yamlUnit
	if err := yaml.UnmarshalStrict(contents, &y); err != nil {
		return nil, err
	}

	return &StatementsUnit{
		up:           trimAll(y.Up),
		down:         trimAll(y.Down),
		hasUp:        len(y.Up) > 0,
		hasDown:      len(y.Down) > 0,
		irreversible: y.Irreversible,
	}, nil
}

func trimAll(statements []string) []string {
	result := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
		if stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
