package models

import "time"

// ConsultationRoom is a scheduled 1-on-1 consultation between a patient and a doctor.
// Its RoomID doubles as the unique name of the room's conversation.
type ConsultationRoom struct {
	// RoomID is the identifier shared with the video room and the conversation.
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// PatientID is the identity of the patient seat.
	PatientID string `gorm:"not null;index" json:"patient_id"`
	// DoctorID is the identity of the doctor seat.
	DoctorID string `gorm:"not null;index" json:"doctor_id"`
	// IsActive is false once staff closed the room.
	IsActive  bool       `json:"is_active"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Participants returns the identities expected in the room's conversation.
func (r *ConsultationRoom) Participants() []string {
	return []string{r.PatientID, r.DoctorID}
}

// HasParticipant reports whether identity holds one of the room's seats.
func (r *ConsultationRoom) HasParticipant(identity string) bool {
	return identity != "" && (identity == r.PatientID || identity == r.DoctorID)
}

// SeatOf returns "patient", "doctor" or "" for identity.
func (r *ConsultationRoom) SeatOf(identity string) string {
	switch {
	case identity == "":
		return ""
	case identity == r.PatientID:
		return "patient"
	case identity == r.DoctorID:
		return "doctor"
	}
	return ""
}
