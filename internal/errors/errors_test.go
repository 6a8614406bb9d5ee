package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, "stage broke")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
	if GetCode(err) != CodeInternalError {
		t.Errorf("expected %s, got %s", CodeInternalError, GetCode(err))
	}
	if Wrap(nil, "nothing") != nil {
		t.Error("wrapping nil should stay nil")
	}
}

func TestWithCodeRetags(t *testing.T) {
	cause := stderrors.New("bad sheet")
	err := WithCode(CodeCaseInvalid, cause)

	if !IsAppError(err) {
		t.Error("expected an AppError")
	}
	if GetCode(err) != CodeCaseInvalid {
		t.Errorf("expected %s, got %s", CodeCaseInvalid, GetCode(err))
	}
	if !stderrors.Is(err, cause) {
		t.Error("retagged error should match its cause")
	}

	retagged := WithCode(CodeSolveFailed, err)
	if GetCode(retagged) != CodeSolveFailed {
		t.Errorf("expected %s, got %s", CodeSolveFailed, GetCode(retagged))
	}
}

func TestGetCodeOnPlainErrors(t *testing.T) {
	plain := stderrors.New("plain")
	if IsAppError(plain) {
		t.Error("plain error should not be an AppError")
	}
	if GetCode(plain) != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %s", GetCode(plain))
	}
}

func TestSolveFailedUnwraps(t *testing.T) {
	cause := stderrors.New("diverged")
	err := SolveFailed("nominal flow", cause)

	if GetCode(err) != CodeSolveFailed {
		t.Errorf("expected %s, got %s", CodeSolveFailed, GetCode(err))
	}
	if !stderrors.Is(err, cause) {
		t.Error("solve failure should unwrap to its cause")
	}
}

func TestStageFailedUnwraps(t *testing.T) {
	cause := stderrors.New("singular")
	err := StageFailed("linearization", cause)

	if GetCode(err) != CodeStageFailed {
		t.Errorf("expected %s, got %s", CodeStageFailed, GetCode(err))
	}
	if !stderrors.Is(err, cause) {
		t.Error("stage failure should unwrap to its cause")
	}
}
