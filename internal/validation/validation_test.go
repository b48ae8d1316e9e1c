package validation

import (
	"testing"
	"time"

	"carelog/internal/models"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{
			name:    "valid email",
			email:   "test@example.com",
			wantErr: false,
		},
		{
			name:    "valid email with subdomain",
			email:   "user@mail.example.com",
			wantErr: false,
		},
		{
			name:    "valid email with plus",
			email:   "user+tag@example.com",
			wantErr: false,
		},
		{
			name:    "missing @",
			email:   "testexample.com",
			wantErr: true,
		},
		{
			name:    "missing domain",
			email:   "test@",
			wantErr: true,
		},
		{
			name:    "missing local part",
			email:   "@example.com",
			wantErr: true,
		},
		{
			name:    "empty string",
			email:   "",
			wantErr: true,
		},
		{
			name:    "spaces in email",
			email:   "test @example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid name",
			input:   "John Doe",
			wantErr: false,
		},
		{
			name:    "single name",
			input:   "John",
			wantErr: false,
		},
		{
			name:    "empty name",
			input:   "",
			wantErr: true,
		},
		{
			name:    "name too short",
			input:   "J",
			wantErr: true,
		},
		{
			name:    "name with hyphen",
			input:   "Mary-Jane",
			wantErr: false,
		},
		{
			name:    "name with apostrophe",
			input:   "O'Brien",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "password123",
			wantErr:  false,
		},
		{
			name:     "password exactly 8 characters",
			password: "pass1234",
			wantErr:  false,
		},
		{
			name:     "password too short",
			password: "pass123",
			wantErr:  true,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
		{
			name:     "long password",
			password: "thisIsAVeryLongPasswordThatShouldBeValid123",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMoodScore(t *testing.T) {
	score := func(v int) *int { return &v }

	tests := []struct {
		name    string
		score   *int
		wantErr bool
	}{
		{name: "no mood", score: nil, wantErr: false},
		{name: "lowest", score: score(1), wantErr: false},
		{name: "highest", score: score(5), wantErr: false},
		{name: "zero", score: score(0), wantErr: true},
		{name: "above scale", score: score(6), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMoodScore(tt.score)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMoodScore() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChildInput(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(-4, 0, 0)
	future := now.AddDate(0, 0, 1)

	tests := []struct {
		name    string
		input   models.ChildInput
		wantErr bool
	}{
		{name: "valid", input: models.ChildInput{Name: "Lucas", BirthDate: &past}, wantErr: false},
		{name: "no birth date", input: models.ChildInput{Name: "Lucas"}, wantErr: false},
		{name: "missing name", input: models.ChildInput{BirthDate: &past}, wantErr: true},
		{name: "future birth date", input: models.ChildInput{Name: "Lucas", BirthDate: &future}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChildInput(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChildInput() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLogInput(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	before := day.AddDate(0, 0, -1)
	bad := 9
	valid := models.LogInput{ChildID: "c1", Title: "Calm morning", IntensityLevel: models.IntensityLow, LogDate: day}

	tests := []struct {
		name    string
		mutate  func(in *models.LogInput)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(in *models.LogInput) {}},
		{name: "missing child", mutate: func(in *models.LogInput) { in.ChildID = "" }, field: "child_id", wantErr: true},
		{name: "blank title", mutate: func(in *models.LogInput) { in.Title = "  " }, field: "title", wantErr: true},
		{name: "bad mood", mutate: func(in *models.LogInput) { in.MoodScore = &bad }, field: "mood_score", wantErr: true},
		{name: "no intensity", mutate: func(in *models.LogInput) { in.IntensityLevel = 0 }, field: "intensity_level", wantErr: true},
		{name: "no date", mutate: func(in *models.LogInput) { in.LogDate = time.Time{} }, field: "log_date", wantErr: true},
		{name: "follow-up before log", mutate: func(in *models.LogInput) { in.FollowUpDate = &before }, field: "follow_up_date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := ValidateLogInput(in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateLogInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				verr, ok := err.(ValidationError)
				if !ok || verr.Field != tt.field {
					t.Errorf("ValidateLogInput() error = %#v, want field %q", err, tt.field)
				}
			}
		})
	}
}
