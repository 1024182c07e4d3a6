package resilience

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input syntax for type numeric"), false},
		{"explicit", NewTransientError(errors.New("retry me")), true},
		{"wrapped explicit", fmt.Errorf("write batch: %w", NewTransientError(errors.New("x"))), true},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, true},
		{"sqlite locked message", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", fmt.Errorf("copy: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg connection class", &pgconn.PgError{Code: "08006"}, true},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to find inner error")
	}
	if te.Error() != "inner" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
