package dispatcher

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/types"
)

// Property: answers match regardless of surrounding whitespace and letter case.
func TestProperty_AnswerNormalization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("padded upper-case answer matches", prop.ForAll(
		func(expected string, pad int) bool {
			padding := strings.Repeat(" ", pad%4) + strings.Repeat("\t", pad%2)
			given := padding + strings.ToUpper(expected) + padding
			return answersMatch(given, expected) == (expected != "")
		},
		gen.AlphaString(),
		gen.IntRange(0, 10),
	))

	properties.Property("different answers never match", prop.ForAll(
		func(a, b string) bool {
			if strings.EqualFold(a, b) {
				return true
			}
			return !answersMatch(a, b)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: whatever the call order, reveal and resolution only succeed after a
// correct answer for the loaded task, the repository is written at most once and
// a completed session refuses every mutation.
func TestProperty_GatesHoldForAnyCallSequence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := casestore.NewMemoryStore()
		for _, rec := range casestore.SampleRecords() {
			if err := store.Create(ctx, rec); err != nil {
				rt.Fatalf("seed: %v", err)
			}
		}
		repo := &faultyRepo{Repository: store}
		d, err := New(repo)
		if err != nil {
			rt.Fatalf("new: %v", err)
		}
		s := NewSession("prop")

		identities := []string{"John", "Sarah", "Nobody"}
		answers := map[string]string{"John": "Smith", "Sarah": "Fluffy"}

		// 参照模型
		var (
			loaded   string
			verified bool
			complete bool
		)

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				identity := rapid.SampledFrom(identities).Draw(rt, "identity")
				res := d.LoadTask(ctx, s, identity)
				switch {
				case complete:
					expectCode(rt, res, types.ErrSessionComplete)
				case identity == "Nobody":
					expectCode(rt, res, types.ErrNotFound)
				default:
					if !res.OK() {
						rt.Fatalf("load %s: %s", identity, res.Code)
					}
					loaded, verified = identity, false
				}

			case 1:
				res := d.GetChallenge(ctx, s)
				if (loaded == "") != (res.Code == types.ErrNoTaskLoaded) {
					rt.Fatalf("get_challenge with loaded=%q returned %s", loaded, res.Code)
				}

			case 2:
				correct := rapid.Bool().Draw(rt, "correct")
				answer := "wrong"
				if correct && loaded != "" {
					answer = " " + strings.ToUpper(answers[loaded])
				}
				res := d.SubmitVerification(ctx, s, answer)
				switch {
				case complete:
					expectCode(rt, res, types.ErrSessionComplete)
				case loaded == "":
					expectCode(rt, res, types.ErrNoTaskLoaded)
				case verified:
					if !res.OK() {
						rt.Fatalf("already verified: %s", res.Code)
					}
				case correct:
					if !res.OK() {
						rt.Fatalf("correct answer refused: %s", res.Code)
					}
					verified = true
				default:
					expectCode(rt, res, types.ErrVerificationMismatch)
				}

			case 3:
				res := d.RevealSensitiveDetails(ctx, s)
				if res.OK() != verified {
					rt.Fatalf("reveal ok=%v with verified=%v", res.OK(), verified)
				}

			case 4:
				res := d.RecordResolution(ctx, s, rapid.Bool().Draw(rt, "confirmed"))
				switch {
				case complete:
					expectCode(rt, res, types.ErrSessionComplete)
				case !verified:
					expectCode(rt, res, types.ErrNotVerified)
				default:
					if !res.OK() {
						rt.Fatalf("resolution refused: %s", res.Code)
					}
					complete = true
				}
			}

			snap := s.Snapshot()
			if snap.Verified != verified || snap.Complete != complete {
				rt.Fatalf("state drifted: %+v (model verified=%v complete=%v)", snap, verified, complete)
			}
			if complete && snap.Stage != session.StageResolved {
				rt.Fatalf("complete session in stage %s", snap.Stage)
			}
		}

		if n := repo.updates.Load(); n > 1 || (n == 1) != complete {
			rt.Fatalf("repository written %d times, complete=%v", n, complete)
		}
	})
}

func expectCode(rt *rapid.T, res Result, code types.ErrorCode) {
	rt.Helper()
	if res.Code != code {
		rt.Fatalf("%s: want %s, got %q (%s)", res.Operation, code, res.Code, res.Status)
	}
}
