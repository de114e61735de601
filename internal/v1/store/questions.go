package store

import (
	"context"

	"github.com/bitwar/backend/go/internal/v1/types"
)

const questionColumns = `id, title, slug, description, difficulty, tags, is_validated,
	is_contributed, COALESCE(contribution_status, ''), COALESCE(function_signature, ''), created_at`

// GetQuestion retrieves one catalog question.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*types.Question, error) {
	var q types.Question
	err := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id).Scan(
		&q.ID, &q.Title, &q.Slug, &q.Description, &q.Difficulty, &q.Tags,
		&q.IsValidated, &q.IsContributed, &q.ContributionStatus, &q.FunctionSignature, &q.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// QuestionTestcases returns a question's test cases in judge order.
func (s *Store) QuestionTestcases(ctx context.Context, questionID int64) ([]types.TestCase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, question_id, input_data, expected_output, is_sample, ordinal
		FROM question_testcases
		WHERE question_id = $1
		ORDER BY ordinal
	`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.TestCase{}
	for rows.Next() {
		var tc types.TestCase
		if err := rows.Scan(&tc.ID, &tc.QuestionID, &tc.InputData, &tc.ExpectedOutput, &tc.IsSample, &tc.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// EligibleQuestionIDs lists questions a battle may be fought over: matching
// topic and difficulty, validated, and either curated or an accepted
// contribution.
func (s *Store) EligibleQuestionIDs(ctx context.Context, topic string, difficulty types.Difficulty) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM questions
		WHERE tags = $1
		  AND difficulty = $2
		  AND is_validated = true
		  AND (is_contributed = false OR contribution_status = 'accepted')
	`, topic, difficulty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
