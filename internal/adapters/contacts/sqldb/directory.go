// Package sqldb implements the contact directory over a SQL table. The
// directory is a read model: the pipeline core resolves and lists contacts
// through it but never mutates them. Upsert exists for imports and
// seeding only.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/storage/dialect"
)

// Directory is a SQL implementation of ports.ContactDirectory.
type Directory struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.ContactDirectory = (*Directory)(nil)

// New creates a Directory on an existing connection. The pipeline store
// and the directory share one database in the default deployment.
func New(db *sqlx.DB, d dialect.Dialect) (*Directory, error) {
	dir := &Directory{db: db, dialect: d}
	if err := dir.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize contacts schema: %w", err)
	}
	return dir, nil
}

// Open creates a Directory with its own connection.
func Open(driver, dsn string) (*Directory, error) {
	d, err := dialect.FromDriverName(driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}
	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	dir, err := New(db, d)
	if err != nil {
		db.Close()
		return nil, err
	}
	return dir, nil
}

func (d *Directory) initSchema() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS contacts (
id TEXT PRIMARY KEY,
kind TEXT NOT NULL,
first_name TEXT NOT NULL DEFAULT '',
last_name TEXT NOT NULL DEFAULT '',
church_name TEXT NOT NULL DEFAULT '',
office_id TEXT NOT NULL,
created_at %s NOT NULL
)`, d.dialect.TimestampType())
	if _, err := d.db.Exec(stmt); err != nil {
		return err
	}
	_, err := d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_contacts_office_kind ON contacts(office_id, kind)`)
	return err
}

type contactRow struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	ChurchName string    `db:"church_name"`
	OfficeID   string    `db:"office_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r contactRow) ref() domain.ContactRef {
	if domain.ContactKind(r.Kind) == domain.ContactKindChurch {
		return domain.ChurchRef{ID: r.ID, Name: r.ChurchName, Office: r.OfficeID}
	}
	return domain.PersonRef{ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, Office: r.OfficeID}
}

// GetContact resolves a contact reference, or NotFound.
func (d *Directory) GetContact(ctx context.Context, id string) (domain.ContactRef, error) {
	query := d.dialect.Rebind(`SELECT * FROM contacts WHERE id = ?`)

	var row contactRow
	if err := d.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("contact", id)
		}
		return nil, domain.ErrStorage("get contact", err)
	}
	return row.ref(), nil
}

// ListContacts returns a page of contacts and the total match count.
// People sort by last name, churches by name.
func (d *Directory) ListContacts(ctx context.Context, opts ports.ContactListOptions) ([]domain.ContactRef, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 25
	}

	where := []string{"1=1"}
	args := []any{}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.OfficeID != "" {
		where = append(where, "office_id = ?")
		args = append(args, opts.OfficeID)
	}
	if opts.Search != "" {
		where = append(where, "(first_name LIKE ? OR last_name LIKE ? OR church_name LIKE ?)")
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	clause := strings.Join(where, " AND ")

	var total int
	countQuery := d.dialect.Rebind("SELECT COUNT(*) FROM contacts WHERE " + clause)
	if err := d.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, domain.ErrStorage("count contacts", err)
	}

	listQuery := d.dialect.Rebind("SELECT * FROM contacts WHERE " + clause +
		" ORDER BY last_name, church_name, first_name, id LIMIT ? OFFSET ?")
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	var rows []contactRow
	if err := d.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, domain.ErrStorage("list contacts", err)
	}

	refs := make([]domain.ContactRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, row.ref())
	}
	return refs, total, nil
}

// Upsert writes a contact row. Used by imports and test fixtures.
func (d *Directory) Upsert(ctx context.Context, ref domain.ContactRef) error {
	row := contactRow{
		ID:        ref.ContactID(),
		Kind:      string(ref.Kind()),
		OfficeID:  ref.OfficeID(),
		CreatedAt: time.Now().UTC(),
	}
	switch r := ref.(type) {
	case domain.PersonRef:
		row.FirstName = r.FirstName
		row.LastName = r.LastName
	case domain.ChurchRef:
		row.ChurchName = r.Name
	default:
		return domain.ErrInvalidArgument("unsupported contact reference type")
	}

	query := d.dialect.Rebind(`INSERT INTO contacts
(id, kind, first_name, last_name, church_name, office_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
first_name = excluded.first_name,
last_name = excluded.last_name,
church_name = excluded.church_name,
office_id = excluded.office_id`)

	if _, err := d.db.ExecContext(ctx, query,
		row.ID, row.Kind, row.FirstName, row.LastName, row.ChurchName, row.OfficeID, row.CreatedAt); err != nil {
		return domain.ErrStorage("upsert contact", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Directory) Close() error {
	return d.db.Close()
}
