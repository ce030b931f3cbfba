// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package normalize

import (
	"log/slog"
	"strings"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// allowedAttachmentTypes is the MIME allow-list for surfaced attachments.
var allowedAttachmentTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,

	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"text/plain": true,
	"text/csv":   true,
}

// filterAttachments drops attachments exceeding the byte ceiling or whose
// MIME type is not allow-listed. Drops are logged, never surfaced as errors.
func (n *Normalizer) filterAttachments(in []models.Attachment) []models.Attachment {
	if len(in) == 0 {
		return nil
	}

	out := make([]models.Attachment, 0, len(in))
	for _, a := range in {
		contentType := strings.ToLower(strings.TrimSpace(a.ContentType))
		if i := strings.Index(contentType, ";"); i >= 0 {
			contentType = strings.TrimSpace(contentType[:i])
		}

		if n.maxAttachmentBytes > 0 && a.Size > n.maxAttachmentBytes {
			slog.Info("dropping oversize attachment",
				"filename", a.Filename,
				"size", a.Size,
				"limit", n.maxAttachmentBytes,
			)
			continue
		}
		if !allowedAttachmentTypes[contentType] {
			slog.Info("dropping attachment with disallowed type",
				"filename", a.Filename,
				"content_type", a.ContentType,
			)
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
