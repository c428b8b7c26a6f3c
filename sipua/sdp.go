/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// StripForSIP removes attributes that SIP servers commonly reject from a
// locally generated description: IPv6 candidates, RTCP feedback and RTP
// header extensions.
func StripForSIP(raw string) (string, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("invalid local SDP: %w", err)
	}

	sd.Attributes = filterAttributes(sd.Attributes)
	for _, md := range sd.MediaDescriptions {
		md.Attributes = filterAttributes(md.Attributes)
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal SDP: %w", err)
	}
	return string(out), nil
}

func filterAttributes(attrs []psdp.Attribute) []psdp.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		switch a.Key {
		case "rtcp-fb", "extmap", "extmap-allow-mixed":
			continue
		case "candidate":
			if fields := strings.Fields(a.Value); len(fields) >= 5 && strings.Contains(fields[4], ":") {
				continue
			}
		}
		kept = append(kept, a)
	}
	return kept
}

// NormalizeRemote adds the mid and BUNDLE attributes the WebRTC stack
// requires when a SIP server omits them.
func NormalizeRemote(raw string) (string, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("invalid remote SDP: %w", err)
	}

	mids := make([]string, 0, len(sd.MediaDescriptions))
	for i, md := range sd.MediaDescriptions {
		mid, ok := md.Attribute("mid")
		if !ok {
			mid = strconv.Itoa(i)
			md.Attributes = append(md.Attributes, psdp.NewAttribute("mid", mid))
		}
		mids = append(mids, mid)
	}
	if _, ok := sd.Attribute("group"); !ok && len(mids) > 0 {
		sd.Attributes = append(sd.Attributes, psdp.NewAttribute("group", "BUNDLE "+strings.Join(mids, " ")))
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal SDP: %w", err)
	}
	return string(out), nil
}
