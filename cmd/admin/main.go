package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/models"
	"healthcb/backend/internal/storage"
)

func openStorage(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(cfg.Store.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	if err := db.AutoMigrate(&models.ConsultationRoom{}, &models.Identity{}); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	// No redis needed for the admin CLI.
	return storage.NewStorageService(db, nil, log), nil
}

func main() {
	var (
		s   storage.Storage
		log *zap.Logger
	)

	root := &cobra.Command{
		Use:          "admin",
		Short:        "Manage consultation rooms",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log = logger.New(cfg.Log)
			s, err = openStorage(cfg, log)
			return err
		},
	}

	var patient, doctor string
	openRoom := &cobra.Command{
		Use:   "open-room <room_id>",
		Short: "Open a consultation room for a patient and a doctor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if patient == "" || doctor == "" {
				return errors.New("--patient and --doctor are required")
			}
			if patient == doctor {
				return errors.New("patient and doctor must be different identities")
			}
			if err := openRoomCmd(s, args[0], patient, doctor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room %s is open.\n", args[0])
			return nil
		},
	}
	openRoom.Flags().StringVar(&patient, "patient", "", "identity of the patient seat")
	openRoom.Flags().StringVar(&doctor, "doctor", "", "identity of the doctor seat")

	closeRoom := &cobra.Command{
		Use:   "close-room <room_id>",
		Short: "Close a consultation room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.CloseRoom(args[0]); err != nil {
				return errors.Wrapf(err, "close room %s", args[0])
			}
			log.Info("room closed", zap.String("room_id", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "Room %s has been closed.\n", args[0])
			return nil
		},
	}

	var identity string
	listRooms := &cobra.Command{
		Use:   "list-rooms",
		Short: "List active consultation rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ids []string
				err error
			)
			if identity != "" {
				ids, err = s.GetActiveRoomIDsForIdentity(identity)
			} else {
				ids, err = s.GetActiveRoomIDs()
			}
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	listRooms.Flags().StringVar(&identity, "identity", "", "only rooms where this identity holds a seat")

	root.AddCommand(openRoom, closeRoom, listRooms)
	cobra.CheckErr(root.Execute())
}

func openRoomCmd(s storage.Storage, roomID, patient, doctor string) error {
	if _, err := s.SaveIdentityIfNotExists(patient, config.ParticipantRoles["patient"]); err != nil {
		return err
	}
	if _, err := s.SaveIdentityIfNotExists(doctor, config.ParticipantRoles["doctor"]); err != nil {
		return err
	}
	return s.SaveRoom(&models.ConsultationRoom{
		RoomID:    roomID,
		PatientID: patient,
		DoctorID:  doctor,
		IsActive:  true,
		StartedAt: time.Now().UTC(),
	})
}
