package proxy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xedro98/Glacier/internal/model"
)

var domainPattern = regexp.MustCompile(
	`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// ValidateDomain rejects malformed domain syntax.
func ValidateDomain(domain string) error {
	if !domainPattern.MatchString(domain) {
		return fmt.Errorf("%w: %q", model.ErrInvalidDomain, domain)
	}
	return nil
}

// ConfFileName derives the config filename for a domain deterministically.
func ConfFileName(domain string) string {
	return domain + ".conf"
}

// Renderer renders nginx virtual host configuration for a site. Render is a
// pure function of its inputs: identical site and certificate input produces
// byte-identical output, so the engine can diff for no-op detection.
type Renderer struct {
	// WebRoot is the document root prefix inside the web server container.
	WebRoot string
	// CertRoot is the certificate directory mounted into the web server.
	CertRoot string
}

// NewRenderer creates a Renderer with the container-side default paths.
func NewRenderer() *Renderer {
	return &Renderer{WebRoot: "/var/www/html", CertRoot: "/etc/letsencrypt"}
}

// Render produces the vhost config for the site. TLS termination is only
// emitted once the certificate is valid; until then the site is served over
// plaintext so certificate validation traffic can be answered.
func (r *Renderer) Render(site model.Site, cert model.CertificateRecord) (string, error) {
	if err := ValidateDomain(site.Domain); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n")

	tls := site.SSLMode != model.SSLNone && cert.State == model.CertValid
	if tls {
		certName := strings.TrimPrefix(cert.Domain, "*.")
		b.WriteString("    listen 443 ssl;\n")
		fmt.Fprintf(&b, "    ssl_certificate %s/live/%s/fullchain.pem;\n", r.CertRoot, certName)
		fmt.Fprintf(&b, "    ssl_certificate_key %s/live/%s/privkey.pem;\n", r.CertRoot, certName)
	}

	fmt.Fprintf(&b, "    server_name %s www.%s;\n", site.Domain, site.Domain)
	fmt.Fprintf(&b, "    root %s/%s;\n", r.WebRoot, site.Domain)
	b.WriteString("    index index.php index.html index.htm;\n")
	b.WriteString("\n")
	b.WriteString("    location / {\n")
	b.WriteString("        try_files $uri $uri/ $uri.html /index.php?$query_string;\n")
	b.WriteString("    }\n")
	b.WriteString("\n")
	b.WriteString("    autoindex off;\n")
	b.WriteString("\n")
	b.WriteString("    location ~ \\.php$ {\n")
	b.WriteString("        fastcgi_split_path_info ^(.+\\.php)(/.+)$;\n")
	fmt.Fprintf(&b, "        fastcgi_pass %s:9000;\n", PHPUpstream(site.Domain))
	b.WriteString("        fastcgi_index index.php;\n")
	b.WriteString("        include fastcgi_params;\n")
	b.WriteString("        fastcgi_param SCRIPT_FILENAME $document_root$fastcgi_script_name;\n")
	b.WriteString("        fastcgi_param PATH_INFO $fastcgi_path_info;\n")
	b.WriteString("    }\n")
	b.WriteString("\n")
	b.WriteString("    location ~ /\\.ht {\n")
	b.WriteString("        deny all;\n")
	b.WriteString("    }\n")

	if len(site.RewriteRules) > 0 {
		b.WriteString("\n")
		for _, rule := range site.RewriteRules {
			fmt.Fprintf(&b, "    %s\n", rule)
		}
	}

	b.WriteString("\n")
	b.WriteString("    error_page 404 /404.html;\n")
	b.WriteString("    error_page 500 502 503 504 /50x.html;\n")
	b.WriteString("    location = /50x.html {\n")
	b.WriteString("        root /usr/share/nginx/html;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")

	return b.String(), nil
}

// PHPUpstream is the fastcgi upstream host for a site's PHP runtime container.
func PHPUpstream(domain string) string {
	return SanitizeName(domain) + "-php"
}

// SanitizeName converts a domain to a container/volume-safe name.
func SanitizeName(domain string) string {
	name := strings.ToLower(domain)
	name = strings.Map(func(c rune) rune {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			return c
		}
		return '-'
	}, name)
	return strings.Trim(name, "-")
}
