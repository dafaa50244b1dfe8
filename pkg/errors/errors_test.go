package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodePluginFailure, status: http.StatusInternalServerError, publicMsg: "plugin failed", detailsOK: true},
		{code: CodeDeliveryFailure, status: http.StatusBadGateway, publicMsg: "digest delivery failed", retryable: true, detailsOK: true},
		{code: CodeUniqueIDCollision, status: http.StatusConflict, publicMsg: "unique id collision", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodePluginFailure, cause, "resolver permission_holders")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodePluginFailure {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if wrapped.Error() != "PLUGIN_FAILURE: resolver permission_holders: boom" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestIsCodeFollowsChain(t *testing.T) {
	inner := New(CodeUniqueIDCollision, "unique id 3 taken")
	outer := fmt.Errorf("save template: %w", inner)
	if !IsCode(outer, CodeUniqueIDCollision) {
		t.Fatalf("expected collision code through wrap chain")
	}
	if IsCode(outer, CodeConflict) {
		t.Fatalf("unexpected conflict code match")
	}
	if IsCode(nil, CodeInternal) {
		t.Fatalf("nil error should not match")
	}
}

func TestDumpCapturesPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_message_templates_unique_id", TableName: "message_templates"}
	err := Wrap(CodeUniqueIDCollision, fmt.Errorf("insert: %w", pgErr), "save template")

	d := Dump(err)
	if d.Code != CodeUniqueIDCollision || !d.Retryable {
		t.Fatalf("unexpected code/retryable: %+v", d)
	}
	if d.PGCode != "23505" || d.PGConstraint != "idx_message_templates_unique_id" {
		t.Fatalf("postgres fields not captured: %+v", d)
	}
	fields := d.Fields()
	if fields["pg_table"] != "message_templates" {
		t.Fatalf("expected pg_table field, got %v", fields)
	}
	if _, ok := fields["error_chain"]; !ok {
		t.Fatalf("expected chain for wrapped error")
	}
}

func TestDumpUntypedErrorIsRetryableInternal(t *testing.T) {
	d := Dump(stdErrors.New("connection reset"))
	if d.Code != CodeInternal || !d.Retryable {
		t.Fatalf("unexpected dump %+v", d)
	}
	fields := d.Fields()
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields should be omitted: %v", fields)
	}
	if _, ok := fields["error_chain"]; ok {
		t.Fatalf("single-element chain should be omitted: %v", fields)
	}
	if d := Dump(nil); d.TopMessage != "" || d.Chain != nil {
		t.Fatalf("nil error should dump empty")
	}
}
