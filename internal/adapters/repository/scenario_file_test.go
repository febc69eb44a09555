package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botflow/internal/core/domain"
)

const buyScenarioYAML = `
name: Buy a car
triggerCommand: /buy
keywords: [buy, купити]
isActive: true
entryNodeId: b0
nodes:
  - id: b0
    type: START
    nextNodeId: b1
  - id: b1
    type: QUESTION_CHOICE
    content:
      text: Budget?
      text_uk: Бюджет?
      variableName: budget
      choices:
        - label: Up to 20k
          value: "20000"
          nextNodeId: b2
  - id: b2
    type: DELAY
    nextNodeId: b3
    content:
      conditionValue: 1500
  - id: b3
    type: CONDITION
    content:
      conditionVariable: budget
      conditionOperator: gt
      conditionValue: 10000
      trueNodeId: b2
      falseNodeId: b1
`

const sellScenarioYAML = `
id: sell
name: Sell
triggerCommand: sell
keywords: [sell]
isActive: false
entryNodeId: missing
nodes:
  - id: s0
    type: MESSAGE
    content:
      text: We buy cars
`

func writeScenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestFileScenarioRepository_Load(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"buy.yaml":  buyScenarioYAML,
		"sell.yml":  sellScenarioYAML,
		"notes.txt": "ignored",
	})

	repo, err := NewFileScenarioRepository(dir)
	require.NoError(t, err)
	require.Len(t, repo.All(), 2)

	sc, err := repo.Get(context.Background(), "buy")
	require.NoError(t, err)
	assert.Equal(t, "Buy a car", sc.Name)
	assert.NoError(t, sc.Validate())

	choice, ok := sc.Node("b1")
	require.True(t, ok)
	body, ok := choice.Body.(domain.QuestionChoiceBody)
	require.True(t, ok)
	assert.Equal(t, "Бюджет?", body.Prompt.Resolve(domain.LocaleUK))
	assert.Equal(t, "20000", body.Choices[0].Value)

	delay, _ := sc.Node("b2")
	assert.Equal(t, domain.DelayBody{Millis: 1500}, delay.Body)

	cond, _ := sc.Node("b3")
	assert.Equal(t, domain.ConditionBody{
		Variable:    "budget",
		Operator:    domain.OpGT,
		Value:       "10000",
		TrueNodeID:  "b2",
		FalseNodeID: "b1",
	}, cond.Body)
}

func TestFileScenarioRepository_Lookups(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"buy.yaml":  buyScenarioYAML,
		"sell.yaml": sellScenarioYAML,
	})
	repo, err := NewFileScenarioRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	sc, err := repo.FindByTrigger(ctx, "/BUY")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "buy", sc.ID)

	sc, err = repo.FindByTrigger(ctx, "/sell")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "sell", sc.ID)

	sc, err = repo.FindByTrigger(ctx, "/nothing")
	assert.NoError(t, err)
	assert.Nil(t, sc)

	sc, err = repo.FindByKeyword(ctx, "хочу купити авто")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "buy", sc.ID)

	// inactive scenarios are not keyword matched
	sc, err = repo.FindByKeyword(ctx, "i want to sell")
	assert.NoError(t, err)
	assert.Nil(t, sc)

	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)
}

func TestFileScenarioRepository_Errors(t *testing.T) {
	_, err := NewFileScenarioRepository(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	dir := writeScenarioDir(t, map[string]string{
		"bad.yaml": "nodes:\n  - id: x\n    type: TELEPORT\n",
	})
	_, err = NewFileScenarioRepository(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEPORT")
}

func TestFileScenarioRepository_Reload(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"buy.yaml": buyScenarioYAML})
	repo, err := NewFileScenarioRepository(dir)
	require.NoError(t, err)
	require.Len(t, repo.All(), 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sell.yaml"), []byte(sellScenarioYAML), 0o644))
	require.NoError(t, repo.Reload())
	assert.Len(t, repo.All(), 2)
}
