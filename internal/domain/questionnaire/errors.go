package questionnaire

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidDefinition = errors.New("invalid questionnaire definition")
	ErrIncomplete        = errors.New("questionnaire response is incomplete")
	ErrUnknownLinkID     = errors.New("unknown linkId")
	ErrUnknownProvider   = errors.New("unknown suggestion provider")
	ErrNotInProgress     = errors.New("questionnaire response is not in progress")
	ErrNotAnswerable     = errors.New("item does not take answers")
)
