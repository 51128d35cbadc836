package gallery

import (
	"context"
	"gallery/internal/asset"
	"gallery/internal/domain"
	"gallery/internal/page"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Session owns one working page. Every fetch discards the previous page,
// so nothing leaks from one element to the next. A Session is not safe for
// concurrent use; workers each take their own from Gallery.NewSession.
type Session struct {
	client *page.Client
	logger *zap.Logger
	wpage  *page.Page
}

func (s *Session) reset() *page.Page {
	s.wpage = s.client.NewPage()
	return s.wpage
}

// Page returns the working page, nil before the first fetch.
func (s *Session) Page() *page.Page { return s.wpage }

// ScrapElement fetches url and returns the fragments matching sel. A non-200
// response yields a nil selection and no error.
func (s *Session) ScrapElement(ctx context.Context, url string, sel domain.Selector, multiple bool) (*goquery.Selection, error) {
	const op = "scrap element"
	p := s.reset()
	status, err := p.FetchBody(ctx, url)
	if err != nil {
		return nil, newError(op, KindFetch, err)
	}
	if status != http.StatusOK {
		s.logger.Info("element page unavailable", zap.String("url", url), zap.Int("status", status))
		return nil, nil
	}
	if p.Document() == nil {
		return nil, nil
	}
	found, err := p.Find(sel, multiple)
	if err != nil {
		return nil, newError(op, KindArgument, err)
	}
	return found, nil
}

// Again runs another query on the current page without fetching.
func (s *Session) Again(sel domain.Selector, multiple bool) (*goquery.Selection, error) {
	const op = "scrap again"
	if s.wpage == nil || s.wpage.Document() == nil {
		return nil, newError(op, KindArgument, ErrNoPage)
	}
	found, err := s.wpage.Find(sel, multiple)
	if err != nil {
		return nil, newError(op, KindArgument, err)
	}
	return found, nil
}

// GetImgName fetches the headers and then the body of url and returns the
// value of headerKey. It returns "" unless the response is 200 and carries
// every header in required with the same value.
func (s *Session) GetImgName(ctx context.Context, url, headerKey string, required map[string]string) (string, error) {
	const op = "image name"
	p := s.reset()
	if _, err := p.FetchHeaders(ctx, url); err != nil {
		return "", newError(op, KindFetch, err)
	}
	status, err := p.FetchContent(ctx)
	if err != nil {
		return "", newError(op, KindFetch, err)
	}
	if status != http.StatusOK {
		return "", nil
	}

	headers := p.Headers()
	for k, want := range required {
		if got, ok := headers[http.CanonicalHeaderKey(k)]; !ok || got != want {
			s.logger.Info("asset headers do not match",
				zap.String("url", url),
				zap.String("header", k),
				zap.String("got", got),
			)
			return "", nil
		}
	}
	return headers[http.CanonicalHeaderKey(headerKey)], nil
}

// GetImgFile stores the body of the current page under
// root/<last path segment of downloadURL>/fileName unless that file
// already exists. It does not check the content of an existing file; see
// VerifyImgFile.
func (s *Session) GetImgFile(root, downloadURL, fileName string) (bool, error) {
	const op = "image file"
	if s.wpage == nil {
		return false, newError(op, KindArgument, ErrNoPage)
	}
	body := s.wpage.Body()
	ok, err := asset.Save(root, downloadURL, fileName, body)
	if err != nil {
		return false, newError(op, KindIO, err)
	}
	s.logger.Debug("asset in place",
		zap.String("file", fileName),
		zap.String("type", asset.Detect(body)),
		zap.Int("bytes", len(body)),
	)
	return ok, nil
}

// VerifyImgFile checks a stored asset. When it fails and the current page
// holds a body, the file is replaced with that body and checked again.
func (s *Session) VerifyImgFile(root, downloadURL, fileName string, want asset.Expect) error {
	const op = "verify image file"
	path, err := asset.Path(root, downloadURL, fileName)
	if err != nil {
		return newError(op, KindArgument, err)
	}
	verr := asset.Verify(path, want)
	if verr == nil {
		return nil
	}
	if s.wpage == nil || len(s.wpage.Body()) == 0 {
		return newError(op, KindIO, verr)
	}

	s.logger.Warn("replacing asset that failed verification", zap.String("path", path), zap.Error(verr))
	if err := asset.Replace(root, downloadURL, fileName, s.wpage.Body()); err != nil {
		return newError(op, KindIO, err)
	}
	if err := asset.Verify(path, want); err != nil {
		return newError(op, KindIO, err)
	}
	return nil
}
