package lambdaboot

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	name  string
	value *string
	err   error
	calls int
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.name = *in.Name
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestLoadSecret_SkipsWhenSet(t *testing.T) {
	t.Setenv("CARD_TEST_SECRET", "already")
	f := &fakeSSM{}
	if err := LoadSecret(context.Background(), f, "CARD_TEST_SECRET", "CARD_TEST_SECRET_PARAM", "/p"); err != nil {
		t.Fatal(err)
	}
	if f.calls != 0 {
		t.Error("SSM should not be called when the variable is set")
	}
}

func TestLoadSecret_FetchesAndExports(t *testing.T) {
	t.Setenv("CARD_TEST_SECRET", "")
	t.Setenv("CARD_TEST_SECRET_PARAM", "/custom/param")
	f := &fakeSSM{value: aws.String("from-ssm")}

	if err := LoadSecret(context.Background(), f, "CARD_TEST_SECRET", "CARD_TEST_SECRET_PARAM", "/default"); err != nil {
		t.Fatalf("LoadSecret() error = %v", err)
	}
	if f.name != "/custom/param" {
		t.Errorf("param = %q, want override", f.name)
	}
	if os.Getenv("CARD_TEST_SECRET") != "from-ssm" {
		t.Error("secret should be exported to the environment")
	}
}

func TestLoadSecret_Errors(t *testing.T) {
	t.Setenv("CARD_TEST_SECRET", "")
	if err := LoadSecret(context.Background(), &fakeSSM{err: errors.New("denied")}, "CARD_TEST_SECRET", "", "/p"); err == nil {
		t.Error("LoadSecret() should return the SSM error")
	}
	err := LoadSecret(context.Background(), &fakeSSM{}, "CARD_TEST_SECRET", "", "/p")
	var missing *MissingParameterError
	if !errors.As(err, &missing) || missing.Name != "/p" {
		t.Errorf("LoadSecret() error = %v, want MissingParameterError", err)
	}
}
