package proxy

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xedro98/Glacier/internal/model"
)

func baseSite() model.Site {
	return model.Site{
		Domain:     "example.com",
		PHPVersion: "8.2",
		SSLMode:    model.SSLStandard,
		ServerID:   "local",
		Status:     model.StatusActive,
	}
}

func TestRenderPlaintextUntilCertValid(t *testing.T) {
	r := NewRenderer()
	site := baseSite()

	for _, state := range []model.CertState{model.CertUnissued, model.CertPendingValidation, model.CertFailed, model.CertExpired} {
		out, err := r.Render(site, model.CertificateRecord{Domain: site.Domain, State: state})
		if err != nil {
			t.Fatalf("render (%s): %v", state, err)
		}
		if strings.Contains(out, "443") {
			t.Fatalf("state %s must not emit TLS termination", state)
		}
	}

	out, err := r.Render(site, model.CertificateRecord{Domain: site.Domain, State: model.CertValid})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "listen 443 ssl;") {
		t.Fatal("valid certificate must emit TLS termination")
	}
	if !strings.Contains(out, "/live/example.com/fullchain.pem") {
		t.Fatal("certificate path not derived from domain")
	}
}

func TestRenderWildcardCertPath(t *testing.T) {
	r := NewRenderer()
	site := baseSite()
	site.SSLMode = model.SSLWildcard
	out, err := r.Render(site, model.CertificateRecord{Domain: "*.example.com", Wildcard: true, State: model.CertValid})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "/live/example.com/fullchain.pem") {
		t.Fatal("wildcard certificate path must strip the *. prefix")
	}
}

func TestRenderInvalidDomain(t *testing.T) {
	r := NewRenderer()
	for _, domain := range []string{"", "no-dots", "-bad.com", "bad-.com", "UPPER.com", "exa mple.com", "exa_mple.com"} {
		site := baseSite()
		site.Domain = domain
		if _, err := r.Render(site, model.CertificateRecord{}); !errors.Is(err, model.ErrInvalidDomain) {
			t.Fatalf("domain %q: expected InvalidDomain, got %v", domain, err)
		}
	}
}

func genDomain() gopter.Gen {
	label := gen.RegexMatch(`[a-z][a-z0-9]{0,10}`)
	return gopter.CombineGens(label, label).Map(func(vals []interface{}) string {
		return fmt.Sprintf("%s.%s", vals[0], vals[1])
	})
}

func genCertState() gopter.Gen {
	return gen.OneConstOf(model.CertUnissued, model.CertPendingValidation, model.CertValid, model.CertExpired, model.CertFailed)
}

// Render is a pure function: two calls with identical site and certificate
// input must produce byte-identical output.
func TestRenderPurity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	r := NewRenderer()
	properties.Property("identical input renders identical bytes", prop.ForAll(
		func(domain string, state model.CertState, phpVersion string, rules []string) bool {
			site := baseSite()
			site.Domain = domain
			site.PHPVersion = phpVersion
			site.RewriteRules = rules
			cert := model.CertificateRecord{Domain: domain, State: state, ExpiresAt: time.Now()}

			a, errA := r.Render(site, cert)
			b, errB := r.Render(site.Clone(), cert)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return a == b
		},
		genDomain(),
		genCertState(),
		gen.OneConstOf("7.4", "8.0", "8.1", "8.2", "8.3"),
		gen.SliceOf(gen.OneConstOf("rewrite ^a$ /b last;", "autoindex off;")),
	))

	properties.TestingRun(t)
}

func TestTranslateHtaccess(t *testing.T) {
	input := strings.NewReader(strings.Join([]string{
		"RewriteEngine On",
		"RewriteRule ^old-page$ /new-page [R=301]",
		"RewriteCond %{HTTPS} off",
		"RewriteRule ^blog/(.*)$ /posts/$1 [L]",
		"Options -Indexes",
		"# comment",
	}, "\n"))

	rules := TranslateHtaccess(input)
	want := []string{
		"rewrite ^old-page$ /new-page permanent;",
		"rewrite ^blog/(.*)$ /posts/$1 last;",
		"autoindex off;",
	}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d: %v", len(want), len(rules), rules)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Fatalf("rule %d: want %q, got %q", i, want[i], rules[i])
		}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"example.com":         "example-com",
		"staging.example.com": "staging-example-com",
		"My.Site.IO":          "my-site-io",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("sanitize %q: want %q, got %q", in, want, got)
		}
	}
}
