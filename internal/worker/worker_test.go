package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/protocol"
)

func init() {
	Register("mypkg", "process", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		text, _ := args[0].(string)
		words := len(strings.Fields(text))
		return map[string]any{"words": int64(words), "upper": strings.ToUpper(text)}, nil
	})
	Register("mypkg", "boom", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errBoom
	})
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom: deliberate failure" }

func buildEnv(t *testing.T, module, qualname string, args []any, stdoutMode coralspec.StdoutMode) map[string]string {
	t.Helper()
	argsB64, err := protocol.EncodeArgs(args)
	if err != nil {
		t.Fatal(err)
	}
	kwargsB64, err := protocol.EncodeKwargs(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	cs := protocol.NewCallSpec(protocol.NewCallID(), module, qualname, argsB64, kwargsB64, "", stdoutMode, map[string]string{})
	encoded, err := protocol.ToJSON(cs)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]string{
		"CALLSPEC_B64": base64.StdEncoding.EncodeToString(encoded),
	}
}

func TestRunSuccessRoundTrip(t *testing.T) {
	env := buildEnv(t, "mypkg", "process", []any{"hello coral"}, coralspec.StdoutSwallow)
	var stdout bytes.Buffer
	code := Run(context.Background(), env, Deps{}, &stdout)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stdout.String())
	}
}

func TestRunSuccessWritesResultViaUploader(t *testing.T) {
	env := buildEnv(t, "mypkg", "process", []any{"hello coral"}, coralspec.StdoutSwallow)
	env["RESULT_URI"] = "mem://result"
	var uploaded []byte
	deps := Deps{
		UploadResult: func(ctx context.Context, uri string, data []byte) error {
			uploaded = data
			return nil
		},
	}
	var stdout bytes.Buffer
	code := Run(context.Background(), env, deps, &stdout)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var decoded struct {
		Words int    `cbor:"words"`
		Upper string `cbor:"upper"`
	}
	if err := protocol.DecodeValue(uploaded, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Upper != "HELLO CORAL" || decoded.Words != 2 {
		t.Fatalf("unexpected uploaded result: %+v", decoded)
	}
}

func TestRunCallErrorExitsOne(t *testing.T) {
	env := buildEnv(t, "mypkg", "boom", nil, coralspec.StdoutSwallow)
	var stdout bytes.Buffer
	code := Run(context.Background(), env, Deps{}, &stdout)
	if code != 1 {
		t.Fatalf("expected exit 1 for a raising call, got %d", code)
	}
}

func TestRunMissingCallSpecIsWorkerError(t *testing.T) {
	var stdout bytes.Buffer
	code := Run(context.Background(), map[string]string{}, Deps{}, &stdout)
	if code == 0 || code == 1 {
		t.Fatalf("expected a worker-internal exit code, got %d", code)
	}
}

func TestRunEmitsStdoutMarkersOnlyWhenRequested(t *testing.T) {
	env := buildEnv(t, "mypkg", "process", []any{"hi"}, coralspec.StdoutSwallow)
	var stdout bytes.Buffer
	Run(context.Background(), env, Deps{}, &stdout)
	if stdout.Len() != 0 {
		t.Fatalf("expected no stdout output without RESULT_STDOUT=1, got %q", stdout.String())
	}

	env2 := buildEnv(t, "mypkg", "process", []any{"hi"}, coralspec.StdoutStream)
	env2["RESULT_STDOUT"] = "1"
	var stdout2 bytes.Buffer
	Run(context.Background(), env2, Deps{}, &stdout2)
	if !strings.Contains(stdout2.String(), "__CORAL_RESULT_B64__:") {
		t.Fatalf("expected a result marker, got %q", stdout2.String())
	}

	env3 := buildEnv(t, "mypkg", "boom", nil, coralspec.StdoutStream)
	env3["RESULT_STDOUT"] = "1"
	var stdout3 bytes.Buffer
	Run(context.Background(), env3, Deps{}, &stdout3)
	if !strings.Contains(stdout3.String(), "__CORAL_ERROR_B64__:") {
		t.Fatalf("expected an error marker, got %q", stdout3.String())
	}
}
