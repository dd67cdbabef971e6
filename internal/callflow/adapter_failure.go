package callflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/dialogue"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// configurationErrorCode marks dial failures where the request never left
// the process; these do not consume an attempt.
const configurationErrorCode = "configuration_error"

// ResolveAdapterFailure closes an attempt whose dial request was rejected by
// the telephony adapter, without waiting for a provider webhook that will
// never come. Network-level failures count as an attempt; configuration
// errors delete the attempt row and roll the counter back, keeping
// attempts_count equal to the number of attempt rows.
func (i *Ingestor) ResolveAdapterFailure(ctx context.Context, callID uuid.UUID, errorCode string) error {
	var (
		committed  []uuid.UUID
		resolved   bool
		campaignID uuid.UUID
	)

	err := i.store.WithinTx(ctx, func(tx repository.Tx) error {
		attempt, err := tx.CallAttempts().GetByCallIDForUpdate(ctx, callID)
		if err != nil {
			return err
		}
		if attempt.Terminal() {
			return nil
		}

		now := time.Now().UTC()

		if errorCode == configurationErrorCode {
			if err := tx.CallAttempts().Delete(ctx, attempt.ID); err != nil {
				if apperrors.Is(err, apperrors.ErrConflict) {
					return nil
				}
				return err
			}
			resolved = true
			campaignID = attempt.CampaignID
			return tx.Contacts().RollbackAttempt(ctx, attempt.ContactID)
		}

		code := errorCode
		err = tx.CallAttempts().Close(ctx, attempt.ID, domain.CallOutcomeFailed, now, "adapter_error", &code)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrConflict) {
				return nil
			}
			return err
		}
		resolved = true
		campaignID = attempt.CampaignID

		eventIDs, err := i.resolveContact(ctx, tx, attempt, dialogue.Snapshot{}, domain.CallOutcomeFailed, now)
		if err != nil {
			return err
		}
		committed = eventIDs
		return nil
	})
	if err != nil {
		return err
	}

	if resolved {
		i.releaseSlot(ctx, campaignID)
	}
	if i.notifier != nil {
		for _, id := range committed {
			i.notifier.EventCommitted(id)
		}
	}
	return nil
}
