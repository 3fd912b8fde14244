package consultation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/testutils"
	"github.com/kadirpekel/optica/pkg/vector"
)

const guide = `Polarized lenses filter horizontally polarized glare from water and roads.
They are ideal for driving and fishing.

UV400 lenses block ultraviolet light up to 400 nanometers and protect the retina.

Round faces are balanced by angular, rectangular frames that add definition.
Square faces suit round or oval frames that soften strong jawlines.`

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lenses.md"), []byte(guide), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "care"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "care", "cleaning.txt"),
		[]byte("Clean lenses with a microfiber cloth and lens spray. Never use paper towels."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("ignored"), 0o644))
	return dir
}

func newAgent(t *testing.T, engine reasoning.Engine) *Agent {
	t.Helper()
	ctx := context.Background()
	passages, err := LoadCorpus(ctx, writeCorpus(t), 200)
	require.NoError(t, err)

	p, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	ix, err := vector.NewIndex(p, vector.NewHashEmbedder(256), "knowledge")
	require.NoError(t, err)
	require.NoError(t, IndexPassages(ctx, ix, passages))

	a, err := New(ix, Options{TopK: 3, Engine: engine})
	require.NoError(t, err)
	return a
}

func TestChunk(t *testing.T) {
	chunks := Chunk("one two\n\nthree four five\n\n\nsix", 12)
	assert.Equal(t, []string{"one two", "three four", "five", "six"}, chunks)

	chunks = Chunk("a\n\nb\n\nc", 100)
	assert.Equal(t, []string{"a\n\nb\n\nc"}, chunks)

	assert.Empty(t, Chunk("  \n\n ", 10))
}

func TestLoadCorpus(t *testing.T) {
	passages, err := LoadCorpus(context.Background(), writeCorpus(t), 200)
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	sources := map[string]bool{}
	for _, p := range passages {
		sources[p.Source] = true
		assert.LessOrEqual(t, len(p.Text), 200)
		assert.True(t, strings.HasPrefix(p.ID, p.Source+"#"))
	}
	assert.Equal(t, map[string]bool{"lenses.md": true, filepath.Join("care", "cleaning.txt"): true}, sources)
}

func TestConsultation_ExtractiveAnswer(t *testing.T) {
	h := testutils.NewHandler(t, Card("http://localhost:10001"), newAgent(t, nil))

	events := testutils.Stream(t, h, testutils.UserMessage("What do polarized lenses do when driving?"))
	assert.Equal(t, a2a.TaskStateWorking, testutils.States(events)[1])

	last := events[len(events)-1].(*a2a.TaskStatusUpdateEvent)
	assert.True(t, last.Final)
	assert.Equal(t, a2a.TaskStateCompleted, last.Status.State)

	task, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: last.TaskID})
	require.NoError(t, err)
	answer := testutils.ArtifactText(task)
	assert.Contains(t, answer, "Polarized lenses filter")
	assert.Contains(t, answer, "Sources: lenses.md")
}

func TestConsultation_StyleSkillUsesEngine(t *testing.T) {
	engine := reasoning.NewScripted(reasoning.Say("Try rectangular frames."))
	h := testutils.NewHandler(t, Card("http://localhost:10001"), newAgent(t, engine))

	task, err := testutils.Send(context.Background(), h, testutils.UserMessage("Which frames suit a round face?"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.Equal(t, "Try rectangular frames.", testutils.ArtifactText(task))
	assert.Equal(t, SkillStyle, task.Artifacts[0].Metadata["skill"])

	req := engine.Requests()[0]
	assert.Contains(t, req.Messages[0].Content, "style recommendation")
	assert.Contains(t, req.Messages[0].Content, "Round faces are balanced")
}

func TestConsultation_EngineFailureFallsBack(t *testing.T) {
	engine := reasoning.NewScripted(reasoning.Fail(errors.New("quota exceeded")))
	h := testutils.NewHandler(t, Card("http://localhost:10001"), newAgent(t, engine))

	task, err := testutils.Send(context.Background(), h, testutils.UserMessage("How do I clean my lenses?"))
	require.NoError(t, err)
	assert.Contains(t, testutils.ArtifactText(task), "microfiber")
}

func TestConsultation_EmptyQuestion(t *testing.T) {
	h := testutils.NewHandler(t, Card("http://localhost:10001"), newAgent(t, nil))

	_, err := testutils.Send(context.Background(), h, testutils.UserMessage("", a2a.NewDataPart(map[string]any{"x": 1})))
	require.Error(t, err)
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))
}

func TestConsultation_EmptyCorpus(t *testing.T) {
	p, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	ix, err := vector.NewIndex(p, vector.NewHashEmbedder(64), "empty")
	require.NoError(t, err)
	a, err := New(ix, Options{})
	require.NoError(t, err)
	h := testutils.NewHandler(t, Card("http://localhost:10001"), a)

	task, err := testutils.Send(context.Background(), h, testutils.UserMessage("anything?"))
	require.NoError(t, err)
	assert.Contains(t, testutils.ArtifactText(task), "could not find")
}

func TestSelectSkill(t *testing.T) {
	assert.Equal(t, SkillStyle, selectSkill(&server.RequestContext{}, "Khuôn mặt vuông nên đeo kính gì?"))
	assert.Equal(t, SkillTechnicalQA, selectSkill(&server.RequestContext{}, "What is UV400?"))
}
