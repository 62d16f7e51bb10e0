package archive

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TimescaleArchive appends sender reports to a (hyper)table so clock drift
// can be analysed after the fact.
type TimescaleArchive struct {
	db        *sql.DB
	tableName string
}

// Open connects with the postgres driver and returns an archive for table.
func Open(dsn, table string) (*TimescaleArchive, error) {
	if !tableName.MatchString(table) {
		return nil, errs.WrapInvalid(errs.ErrInvalidConfig, "archive", "Open", "validate table "+table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.WrapFatal(err, "archive", "Open", "open postgres")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.WrapTransient(err, "archive", "Open", "ping postgres")
	}
	return NewTimescaleArchive(db, table), nil
}

func NewTimescaleArchive(db *sql.DB, table string) *TimescaleArchive {
	return &TimescaleArchive{db: db, tableName: table}
}

func (t *TimescaleArchive) Name() string { return "timescaledb" }

// EnsureSchema creates the report table when it does not exist yet.
func (t *TimescaleArchive) EnsureSchema() error {
	_, err := t.db.Exec("CREATE TABLE IF NOT EXISTS " + t.tableName + ` (
	ticket UUID NOT NULL,
	sensor TEXT NOT NULL,
	ntp TIMESTAMPTZ NOT NULL,
	rtp_ts INTEGER NOT NULL,
	packets BIGINT NOT NULL,
	octets BIGINT NOT NULL,
	cname TEXT NOT NULL,
	PRIMARY KEY (ticket, ntp))`)
	return err
}

func (t *TimescaleArchive) WriteReports(reports []domain.SenderReport) error {
	if len(reports) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (ticket, sensor, ntp, rtp_ts, packets, octets, cname) VALUES ")

	args := make([]any, 0, len(reports)*7)
	for i, r := range reports {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7))
		args = append(args,
			r.Ticket.String(),
			r.Sensor.String(),
			r.NTP,
			r.RTPTimestamp,
			int64(r.PacketCount),
			int64(r.OctetCount),
			r.CName,
		)
	}

	b.WriteString(" ON CONFLICT (ticket, ntp) DO NOTHING")

	if _, err := t.db.Exec(b.String(), args...); err != nil {
		return errs.WrapTransient(err, "archive", "WriteReports", "insert reports")
	}
	return nil
}

func (t *TimescaleArchive) Close() error { return t.db.Close() }

var _ ports.ReportArchive = (*TimescaleArchive)(nil)
