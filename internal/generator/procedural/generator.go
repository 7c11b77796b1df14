// Package procedural is a deterministic, CPU-only stand-in for ML inference.
// It derives characters and animation tracks from prompt keywords, seeded by a
// hash of the request, and works in discrete steps so cancellation and
// progress behave like a real long-running generation.
package procedural

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/kiranshivaraju/animgen/internal/generator"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

const (
	defaultDuration = 10 * timecode.TicksPerSecond
	keyframeSpacing = timecode.TicksPerSecond / 2
	soundSpacing    = 2 * timecode.TicksPerSecond
	renderSteps     = 4
	characterSteps  = 4
	// checkEvery is how many keyframes are built between context checks.
	checkEvery = 256
)

var (
	actions = map[string][]string{
		"walk":  {"contact", "down", "passing", "up"},
		"run":   {"push", "flight", "land", "recover"},
		"jump":  {"crouch", "launch", "apex", "land"},
		"dance": {"step", "spin", "sway", "pose"},
		"fight": {"guard", "strike", "dodge", "recover"},
		"fly":   {"glide", "flap", "bank", "soar"},
		"idle":  {"breathe-in", "breathe-out"},
	}
	particleSystems = []string{"fire", "water", "smoke", "magic", "electricity"}
	soundCategories = map[string][]string{
		"music":   {"music", "song", "dance", "beat"},
		"voice":   {"talk", "speak", "shout", "sing"},
		"effects": {"fight", "explosion", "crash", "fire", "electricity"},
	}
)

// Generator implements models.Generator.
type Generator struct {
	stepDelay time.Duration
}

// New returns a Generator that pauses stepDelay between units of work.
func New(stepDelay time.Duration) *Generator {
	return &Generator{stepDelay: stepDelay}
}

func (g *Generator) Name() string { return "procedural" }

func (g *Generator) Generate(ctx context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
	switch kind {
	case models.TargetCharacter:
		return g.character(ctx, req, progress)
	case models.TargetAnimationRender:
		return g.render(ctx, req, progress)
	default:
		return models.GenerationResult{}, fmt.Errorf("%w: %q", generator.ErrUnsupportedKind, kind)
	}
}

func (g *Generator) character(ctx context.Context, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
	words := tokenize(req.Prompt)

	traits := analyzeTraits(words)
	if err := g.step(ctx, 1, characterSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}

	style := req.Style
	if style == "" {
		style = models.DefaultStyle
	}
	seed := seedOf(req)
	model := fmt.Sprintf("procedural://character/%s/%016x", style, seed)
	if err := g.step(ctx, 2, characterSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}

	// style transfer and mesh optimization have no procedural equivalent
	for i := 3; i <= characterSteps; i++ {
		if err := g.step(ctx, i, characterSteps, progress); err != nil {
			return models.GenerationResult{}, err
		}
	}

	return models.GenerationResult{
		Generator: g.Name(),
		Character: &models.Character{
			Name:       nameFrom(words),
			Style:      style,
			Traits:     traits,
			Attributes: req.Attributes,
			Model:      model,
		},
	}, nil
}

func (g *Generator) render(ctx context.Context, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
	words := tokenize(req.Prompt)
	rng := rand.New(rand.NewPCG(seedOf(req), 0))
	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	duration = min(duration, models.MaxDuration)

	character, err := characterTrack(ctx, words, duration, rng)
	if err != nil {
		return models.GenerationResult{}, err
	}
	if err := g.step(ctx, 1, renderSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}

	effects, err := effectTrack(words, duration, rng)
	if err != nil {
		return models.GenerationResult{}, err
	}
	if err := g.step(ctx, 2, renderSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}

	sound, err := soundTrack(ctx, words, duration, rng)
	if err != nil {
		return models.GenerationResult{}, err
	}
	if err := g.step(ctx, 3, renderSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}

	tracks := []models.Track{character}
	if len(effects.Keyframes) > 0 {
		tracks = append(tracks, effects)
	}
	tracks = append(tracks, sound)
	if err := g.step(ctx, renderSteps, renderSteps, progress); err != nil {
		return models.GenerationResult{}, err
	}
	return models.GenerationResult{Generator: g.Name(), Tracks: tracks}, nil
}

// step waits stepDelay, then reports i/n progress. It returns early when ctx
// is done or the job stops accepting progress.
func (g *Generator) step(ctx context.Context, i, n int, progress models.ProgressFunc) error {
	if g.stepDelay > 0 {
		t := time.NewTimer(g.stepDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if progress == nil {
		return nil
	}
	return progress(float64(i) / float64(n))
}

func characterTrack(ctx context.Context, words []string, duration timecode.Tick, rng *rand.Rand) (models.Track, error) {
	action := "idle"
	for _, w := range words {
		if _, ok := actions[w]; ok {
			action = w
			break
		}
	}
	poses := actions[action]

	track := models.Track{ID: "generated-character", Name: "Character: " + action, Kind: models.TrackCharacter}
	x := 0.0
	for i, at := 0, timecode.Tick(0); at <= duration; i, at = i+1, at+keyframeSpacing {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return models.Track{}, err
			}
		}
		if action != "idle" {
			x += 0.5 + rng.Float64()
		}
		kf, err := keyframe(at, map[string]any{"action": action, "pose": poses[i%len(poses)], "x": round2(x)})
		if err != nil {
			return models.Track{}, err
		}
		track.Keyframes = append(track.Keyframes, kf)
	}
	return track, nil
}

func effectTrack(words []string, duration timecode.Tick, rng *rand.Rand) (models.Track, error) {
	var systems []string
	for _, w := range words {
		if slices.Contains(particleSystems, w) && !slices.Contains(systems, w) {
			systems = append(systems, w)
		}
	}
	track := models.Track{ID: "generated-effects", Name: "Effects", Kind: models.TrackEffect}
	for i, system := range systems {
		start := duration * timecode.Tick(i) / timecode.Tick(len(systems))
		for _, at := range []timecode.Tick{start, min(start+keyframeSpacing, duration)} {
			kf, err := keyframe(at, map[string]any{"effect": system, "intensity": round2(0.3 + 0.7*rng.Float64())})
			if err != nil {
				return models.Track{}, err
			}
			track.Keyframes = append(track.Keyframes, kf)
		}
	}
	slices.SortStableFunc(track.Keyframes, func(a, b models.Keyframe) int { return cmp.Compare(a.Time, b.Time) })
	track.Keyframes = slices.CompactFunc(track.Keyframes, func(a, b models.Keyframe) bool { return a.Time == b.Time })
	return track, nil
}

func soundTrack(ctx context.Context, words []string, duration timecode.Tick, rng *rand.Rand) (models.Track, error) {
	category := "ambient"
	for _, name := range []string{"music", "voice", "effects"} {
		if slices.ContainsFunc(words, func(w string) bool { return slices.Contains(soundCategories[name], w) }) {
			category = name
			break
		}
	}
	track := models.Track{ID: "generated-sound", Name: "Sound: " + category, Kind: models.TrackSound}
	for i, at := 0, timecode.Tick(0); at <= duration; i, at = i+1, at+soundSpacing {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return models.Track{}, err
			}
		}
		kf, err := keyframe(at, map[string]any{"cue": category, "volume": round2(0.5 + 0.5*rng.Float64())})
		if err != nil {
			return models.Track{}, err
		}
		track.Keyframes = append(track.Keyframes, kf)
	}
	return track, nil
}

// analyzeTraits scores each trait vocabulary against the prompt. A trait
// matches when the prompt contains it or, for compound traits, its first word.
func analyzeTraits(words []string) map[string][]string {
	traits := make(map[string][]string, len(models.TraitCategories))
	for category, vocab := range models.TraitCategories {
		var found []string
		for _, trait := range vocab {
			head, _, _ := strings.Cut(trait, "_")
			if slices.Contains(words, trait) || slices.Contains(words, head) {
				found = append(found, trait)
			}
		}
		traits[category] = found
	}
	return traits
}

func keyframe(at timecode.Tick, v map[string]any) (models.Keyframe, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return models.Keyframe{}, fmt.Errorf("encode keyframe: %w", err)
	}
	return models.Keyframe{Time: at, Value: b}, nil
}

func tokenize(prompt string) []string {
	return strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_' && r != '-'
	})
}

func nameFrom(words []string) string {
	var parts []string
	for _, w := range words {
		if len(w) < 3 || slices.Contains(stopWords, w) {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		parts = append(parts, string(r))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "Unnamed Character"
	}
	return strings.Join(parts, " ")
}

var stopWords = []string{"the", "and", "with", "who", "that", "from", "very", "into"}

func seedOf(req models.GenerationRequest) uint64 {
	h := fnv.New64a()
	h.Write([]byte(req.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(req.Style))
	return h.Sum64()
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

var _ models.Generator = (*Generator)(nil)
