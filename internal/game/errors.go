package game

import (
	"errors"

	apperrors "github.com/wfunc/simon-game/internal/errors"
)

// 游戏错误
var (
	ErrInvalidSignal      = errors.New("invalid signal")
	ErrGameNotStarted     = errors.New("game not started")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameFinished       = errors.New("game finished")
	ErrSequenceInProgress = errors.New("sequence playback in progress")
	ErrNoGuessRemaining   = errors.New("no guess remaining for this level")
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionLimit       = errors.New("session limit reached")
	ErrCorruptSequence    = errors.New("sequence contains unspecified signal")
	ErrNoPicture          = errors.New("no picture attached")
	ErrAlreadySaved       = errors.New("result already saved")
	ErrBlankPlayerName    = errors.New("player name is blank")
)

var errorCodes = map[error]apperrors.ErrorCode{
	ErrInvalidSignal:      apperrors.ErrInvalidSignal,
	ErrGameNotStarted:     apperrors.ErrGameNotStarted,
	ErrGameAlreadyStarted: apperrors.ErrGameAlreadyStarted,
	ErrGameFinished:       apperrors.ErrGameFinished,
	ErrSequenceInProgress: apperrors.ErrSequenceInProgress,
	ErrNoGuessRemaining:   apperrors.ErrNoGuessRemaining,
	ErrSessionClosed:      apperrors.ErrSessionClosed,
	ErrSessionNotFound:    apperrors.ErrSessionNotFound,
	ErrSessionLimit:       apperrors.ErrSessionLimit,
	ErrCorruptSequence:    apperrors.ErrGameStateError,
	ErrAlreadySaved:       apperrors.ErrScoreAlreadySaved,
	ErrBlankPlayerName:    apperrors.ErrInvalidPlayerName,
}

// ToAppError 将游戏错误转换为带错误码的应用错误
func ToAppError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return apperrors.Wrap(err, code)
		}
	}
	return apperrors.Wrap(err, apperrors.ErrUnknown)
}
