package policy

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/coursekit/admission/internal/log"
	"github.com/coursekit/admission/internal/ratelimit"
	"github.com/coursekit/admission/internal/xerrors"
)

// SSMAPI is the slice of the SSM client the loader needs, kept narrow
// so tests can stub it.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// File is a path to a local JSON policy document.
	File string

	// SSMParam names an SSM parameter holding the document. Used only
	// when File is empty.
	SSMParam string
	SSM      SSMAPI
}

// Load resolves the policy document from its configured source and
// compiles it. With neither source configured the built-in defaults
// apply. Policy problems are configuration errors: they fail startup,
// they never reach per-request evaluation.
func Load(ctx context.Context, opts LoaderOptions) (map[string]ratelimit.Config, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	var (
		doc    Document
		source string
	)
	switch {
	case opts.File != "":
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read policy file %s", opts.File)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, xerrors.Wrapf(err, "parse policy file %s", opts.File)
		}
		source = "file:" + opts.File

	case opts.SSMParam != "":
		if opts.SSM == nil {
			return nil, xerrors.New("policy SSM parameter configured without an SSM client")
		}
		out, err := opts.SSM.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(opts.SSMParam),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "get SSM parameter %s", opts.SSMParam)
		}
		if out.Parameter == nil || out.Parameter.Value == nil || strings.TrimSpace(*out.Parameter.Value) == "" {
			return nil, xerrors.Newf("SSM parameter %s has no value", opts.SSMParam)
		}
		if err := json.Unmarshal([]byte(*out.Parameter.Value), &doc); err != nil {
			return nil, xerrors.Wrapf(err, "parse SSM parameter %s", opts.SSMParam)
		}
		source = "ssm:" + opts.SSMParam

	default:
		doc = Defaults()
		source = "defaults"
	}

	configs, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "loaded rate-limit policy", "source", source, "operations", len(configs))
	return configs, nil
}
