package httpx

import "github.com/rotisserie/eris"

var (
	ErrBadRequest     = eris.New("httpx: bad request")
	ErrHeaderTooLarge = eris.New("httpx: header too large")
	ErrWriteAfterEnd  = eris.New("httpx: write after end")
)
