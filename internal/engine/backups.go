package engine

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/xedro98/Glacier/internal/backup"
	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
)

// mariadbImage must match the image the stack manager provisions; it is the
// database engine marker stamped on backups.
const mariadbImage = "mariadb:10.11"

func dbEngineMarker(site model.Site) string {
	for _, svc := range site.Services {
		if svc == "mariadb" {
			return mariadbImage
		}
	}
	return ""
}

func (e *Engine) backupDir(domain string) string {
	return path.Join(e.backupRoot, proxy.SanitizeName(domain))
}

// Backup snapshots a site's files and, when a database is attached, a full
// dump, into one archive on the site's host. The archive is stamped with the
// PHP and database engine versions so Restore can refuse mismatched targets.
func (e *Engine) Backup(ctx context.Context, domain string) (backup.Record, error) {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return backup.Record{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return backup.Record{}, err
	}

	rec := backup.Record{
		ID:         e.catalog.NewID(),
		Domain:     domain,
		ServerID:   site.ServerID,
		PHPVersion: site.PHPVersion,
		DBEngine:   dbEngineMarker(site),
		CreatedAt:  e.now().UTC(),
	}
	rec.Path = path.Join(e.backupDir(domain), rec.ID+".tar.gz")

	stackDir := e.stacks.StackDir(domain)
	members := []string{"site"}

	if rec.DBEngine != "" {
		dbContainer := proxy.SanitizeName(domain) + "-db"
		dump := fmt.Sprintf(
			`docker exec %s sh -c 'exec mysqldump --all-databases -uroot -p"$MYSQL_ROOT_PASSWORD"' > %s`,
			shellQuote(dbContainer), shellQuote(path.Join(stackDir, "db.sql")))
		if _, err := e.exec.Execute(ctx, server, dump); err != nil {
			e.audit("backup", domain, "error", err.Error())
			return backup.Record{}, fmt.Errorf("dump database for %s: %w", domain, err)
		}
		members = append(members, "db.sql")
	}

	archive := fmt.Sprintf("mkdir -p %s && tar -czf %s -C %s %s",
		shellQuote(e.backupDir(domain)), shellQuote(rec.Path), shellQuote(stackDir),
		strings.Join(members, " "))
	if _, err := e.exec.Execute(ctx, server, archive); err != nil {
		e.audit("backup", domain, "error", err.Error())
		return backup.Record{}, fmt.Errorf("archive %s: %w", domain, err)
	}

	if res, err := e.exec.Execute(ctx, server, "stat -c %s "+shellQuote(rec.Path)); err == nil {
		if n, perr := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64); perr == nil {
			rec.SizeBytes = n
		}
	}

	if err := e.catalog.Add(rec); err != nil {
		return backup.Record{}, err
	}

	e.audit("backup", domain, "ok", rec.ID)
	e.logger.Info("backup created", "domain", domain, "backup", rec.ID, "bytes", rec.SizeBytes)
	return rec, nil
}

// Backups lists a domain's backup catalog.
func (e *Engine) Backups(domain string) ([]backup.Record, error) {
	if _, ok := e.store.Site(domain); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	return e.catalog.List(domain)
}

// Restore unpacks a backup over the site's document root and reimports its
// database dump. The backup's version markers must match the live stack: a
// dump taken under a different PHP or database engine version is rejected
// before any side effect.
func (e *Engine) Restore(ctx context.Context, domain, backupID string) error {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	rec, err := e.catalog.Get(backupID)
	if err != nil {
		return err
	}

	if rec.Domain != domain {
		return fmt.Errorf("%w: backup %s belongs to %s", model.ErrIncompatibleBackup, backupID, rec.Domain)
	}
	if rec.PHPVersion != site.PHPVersion {
		return fmt.Errorf("%w: backup PHP %s, live stack PHP %s",
			model.ErrIncompatibleBackup, rec.PHPVersion, site.PHPVersion)
	}
	if rec.DBEngine != dbEngineMarker(site) {
		return fmt.Errorf("%w: backup database %q, live stack %q",
			model.ErrIncompatibleBackup, rec.DBEngine, dbEngineMarker(site))
	}

	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return err
	}

	stackDir := e.stacks.StackDir(domain)
	extract := fmt.Sprintf("tar -xzf %s -C %s", shellQuote(rec.Path), shellQuote(stackDir))
	if _, err := e.exec.Execute(ctx, server, extract); err != nil {
		return e.failStage(site, nil, stageRestore, err)
	}

	if rec.DBEngine != "" {
		dbContainer := proxy.SanitizeName(domain) + "-db"
		load := fmt.Sprintf(
			`docker exec -i %s sh -c 'exec mysql -uroot -p"$MYSQL_ROOT_PASSWORD"' < %s`,
			shellQuote(dbContainer), shellQuote(path.Join(stackDir, "db.sql")))
		if _, err := e.exec.Execute(ctx, server, load); err != nil {
			return e.failStage(site, nil, stageRestore, err)
		}
	}

	e.audit("restore", domain, "ok", backupID)
	e.logger.Info("backup restored", "domain", domain, "backup", backupID)
	return nil
}
