package models

import "time"

type Patient struct {
	PatientID      string    `json:"patient_id"`
	Name           string    `json:"name"`
	Kana           string    `json:"kana,omitempty"`
	PetName        string    `json:"pet_name"`
	Phone          string    `json:"phone,omitempty"`
	BirthDate      string    `json:"birth_date,omitempty"`
	Email          string    `json:"email,omitempty"`
	CardNo         string    `json:"card_no"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
