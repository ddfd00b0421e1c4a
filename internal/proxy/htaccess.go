package proxy

import (
	"bufio"
	"io"
	"strings"
)

// TranslateHtaccess converts the subset of Apache .htaccess directives the
// panel understands into nginx directives. RewriteCond chains are skipped;
// they have no one-to-one nginx equivalent.
func TranslateHtaccess(r io.Reader) []string {
	var rules []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "RewriteRule"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			pattern := strings.Trim(parts[1], "^$")
			target := parts[2]
			flags := ""
			if len(parts) > 3 {
				flags = " " + translateFlags(parts[3])
			}
			rules = append(rules, "rewrite ^"+pattern+"$ "+target+flags+";")
		case strings.HasPrefix(line, "Options"):
			if strings.Contains(line, "-Indexes") {
				rules = append(rules, "autoindex off;")
			}
		}
	}
	return rules
}

func translateFlags(apacheFlags string) string {
	flags := strings.Trim(apacheFlags, "[]")
	for _, f := range strings.Split(flags, ",") {
		switch strings.ToUpper(strings.TrimSpace(f)) {
		case "L":
			return "last"
		case "R", "R=301":
			return "permanent"
		case "R=302":
			return "redirect"
		}
	}
	return "last"
}
