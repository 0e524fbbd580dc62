package storage

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"healthcb/backend/internal/models"
)

// SaveRoom upserts a consultation room.
func (s *Service) SaveRoom(room *models.ConsultationRoom) error {
	return s.DB.Save(room).Error
}

// GetRoomByID returns ErrNotFound for unknown rooms.
func (s *Service) GetRoomByID(roomID string) (*models.ConsultationRoom, error) {
	var room models.ConsultationRoom
	err := s.DB.Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CloseRoom marks the room inactive and stamps EndedAt.
func (s *Service) CloseRoom(roomID string) error {
	result := s.DB.Model(&models.ConsultationRoom{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"is_active": false,
			"ended_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveRoomIDs returns the IDs of all active rooms.
func (s *Service) GetActiveRoomIDs() ([]string, error) {
	var roomIDs []string
	if err := s.DB.Model(&models.ConsultationRoom{}).
		Where("is_active = ?", true).
		Order("started_at asc").
		Pluck("room_id", &roomIDs).Error; err != nil {
		return nil, err
	}
	return roomIDs, nil
}

// GetActiveRoomIDsForIdentity returns the active rooms where identity holds a seat.
func (s *Service) GetActiveRoomIDsForIdentity(identity string) ([]string, error) {
	var roomIDs []string
	if err := s.DB.Model(&models.ConsultationRoom{}).
		Where("is_active = ?", true).
		Where("patient_id = ? OR doctor_id = ?", identity, identity).
		Pluck("room_id", &roomIDs).Error; err != nil {
		return nil, err
	}
	return roomIDs, nil
}

// SaveIdentityIfNotExists creates the identity on first contact.
func (s *Service) SaveIdentityIfNotExists(identity string, roles ...string) (*models.Identity, error) {
	var record models.Identity
	defaults := models.Identity{Identity: identity, DisplayName: identity, Roles: roles}

	result := s.DB.Where("identity = ?", identity).FirstOrCreate(&record, defaults)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		s.Log.Info("new identity saved", zap.String("identity", identity), zap.String("id", record.ID))
	}
	return &record, nil
}

// CreateConversation inserts conv. A duplicate unique name yields ErrConversationExists.
func (s *Service) CreateConversation(conv *models.Conversation) error {
	if err := s.DB.Create(conv).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrConversationExists
		}
		return err
	}
	return nil
}

func (s *Service) GetConversationByUniqueName(uniqueName string) (*models.Conversation, error) {
	return s.findConversation("unique_name = ?", uniqueName)
}

func (s *Service) GetConversationBySID(sid string) (*models.Conversation, error) {
	return s.findConversation("sid = ?", sid)
}

func (s *Service) findConversation(query string, arg string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.Where(query, arg).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddParticipant adds identity to the conversation. Adding twice yields ErrParticipantExists.
func (s *Service) AddParticipant(sid, identity string) (*models.Participant, error) {
	participant := &models.Participant{
		ConversationSID: sid,
		Identity:        identity,
		JoinedAt:        time.Now().UTC(),
	}
	result := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(participant)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return nil, ErrParticipantExists
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrParticipantExists
	}
	return participant, nil
}

func (s *Service) GetParticipants(sid string) ([]models.Participant, error) {
	var participants []models.Participant
	if err := s.DB.Where("conversation_sid = ?", sid).Order("joined_at asc").Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func (s *Service) IsParticipant(sid, identity string) (bool, error) {
	var count int64
	if err := s.DB.Model(&models.Participant{}).
		Where("conversation_sid = ? AND identity = ?", sid, identity).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveMessage persists msg; msg.ID is filled in by GORM and used as the message index.
func (s *Service) SaveMessage(msg *models.Message) error {
	if err := s.DB.Create(msg).Error; err != nil {
		s.Log.Error("failed to save message", zap.String("conversation_sid", msg.ConversationSID), zap.Error(err))
		return err
	}
	return nil
}

// GetMessages returns up to limit messages older than before (0 = newest page),
// ordered oldest first.
func (s *Service) GetMessages(sid string, before uint, limit int) ([]models.Message, error) {
	q := s.DB.Where("conversation_sid = ?", sid)
	if before > 0 {
		q = q.Where("id < ?", before)
	}

	var page []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&page).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// isDuplicateKey recognises unique violations whether or not the dialector
// translates them (gorm.Config.TranslateError).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key")
}
