package mockserver

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"surveychat/pkg/proto"
)

//go:embed default_survey.yaml
var defaultSurveyYAML []byte

// Default follow-up rule.
const (
	DefaultFollowUpMinWords = 10
	DefaultMaxFollowUps     = 3
)

// Survey is a survey definition as read from YAML.
type Survey struct {
	ID               string           `yaml:"id"`
	Title            string           `yaml:"title"`
	FollowUpMinWords int              `yaml:"follow_up_min_words"`
	MaxFollowUps     int              `yaml:"max_follow_ups"`
	Questions        []SurveyQuestion `yaml:"questions"`
}

// SurveyQuestion is one question of a definition. Positions follow list order.
type SurveyQuestion struct {
	ID             string         `yaml:"id"`
	Type           string         `yaml:"type"`
	Text           string         `yaml:"text"`
	Required       bool           `yaml:"required"`
	AllowPreferNot bool           `yaml:"allow_prefer_not"`
	Options        []SurveyOption `yaml:"options"`
}

// SurveyOption is one choice of a single-choice question.
type SurveyOption struct {
	ID    string `yaml:"id"`
	Text  string `yaml:"text"`
	Score *int   `yaml:"score"`
}

// DefaultSurvey returns the built-in five question survey.
func DefaultSurvey() *Survey {
	s, err := ParseSurvey(defaultSurveyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded survey is invalid: %v", err))
	}
	return s
}

// LoadSurvey reads a survey definition from path.
func LoadSurvey(path string) (*Survey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey file %s: %w", path, err)
	}
	s, err := ParseSurvey(data)
	if err != nil {
		return nil, fmt.Errorf("survey file %s: %w", path, err)
	}
	return s, nil
}

// ParseSurvey decodes and validates a YAML definition.
func ParseSurvey(data []byte) (*Survey, error) {
	var s Survey
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse survey: %w", err)
	}
	if s.FollowUpMinWords <= 0 {
		s.FollowUpMinWords = DefaultFollowUpMinWords
	}
	if s.MaxFollowUps < 0 {
		s.MaxFollowUps = 0
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Survey) validate() error {
	if s.ID == "" {
		return fmt.Errorf("survey id is required")
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("survey %s has no questions", s.ID)
	}
	seen := make(map[string]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		if q.ID == "" {
			return fmt.Errorf("question %d has no id", i+1)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
		switch proto.QuestionType(q.Type) {
		case proto.QuestionTypeSingleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("single_choice question %s has no options", q.ID)
			}
		case proto.QuestionTypeFreeText:
		default:
			return fmt.Errorf("question %s has unknown type %q", q.ID, q.Type)
		}
	}
	return nil
}

// Question returns the wire form of the question at 1-based position.
func (s *Survey) Question(position int) *proto.Question {
	if position < 1 || position > len(s.Questions) {
		return nil
	}
	sq := s.Questions[position-1]
	q := &proto.Question{
		ID:             sq.ID,
		Type:           proto.QuestionType(sq.Type),
		Text:           sq.Text,
		Position:       position,
		Required:       sq.Required,
		AllowPreferNot: sq.AllowPreferNot,
	}
	for _, o := range sq.Options {
		q.Options = append(q.Options, proto.Option{ID: o.ID, Text: o.Text, Score: o.Score})
	}
	return q
}
