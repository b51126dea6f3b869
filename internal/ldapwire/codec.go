package ldapwire

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Encode renders a Message as a complete BER-encoded LDAPMessage.
func Encode(msg Message) []byte {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, msg.MsgID, "MessageID"))
	envelope.AppendChild(encodeOp(msg.Op))

	if len(msg.Controls) > 0 {
		envelope.AppendChild(encodeControls(msg.Controls))
	}

	return envelope.Bytes()
}

func encodeOp(op Op) *ber.Packet {
	tag := ber.Tag(op.opTag())
	packet := ber.Encode(ber.ClassApplication, ber.TypeConstructed, tag, nil, opDescription(op))

	switch v := op.(type) {
	case BindRequest:
		packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, v.Version, "Version"))
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v.DN, "DN"))
		packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, string(v.Password), "Simple Auth"))

	case BindResponse:
		appendResult(packet, v.Result)
		if v.HasSASLCred {
			packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 7, string(v.SASLCreds), "SASL Creds"))
		}

	case UnbindRequest:
		// No body.

	case SearchRequest:
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v.BaseDN, "Base DN"))
		packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(v.Scope), "Scope"))
		packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(v.DerefAliases), "Deref Aliases"))
		packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, v.SizeLimit, "Size Limit"))
		packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, v.TimeLimit, "Time Limit"))
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, v.TypesOnly, "Types Only"))
		packet.AppendChild(encodeFilter(v.Filter))

		attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
		for _, a := range v.Attributes {
			attrs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a, "Attribute"))
		}
		packet.AppendChild(attrs)

	case SearchResultEntry:
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v.DN, "Object Name"))
		attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
		for _, a := range v.Attributes {
			partial := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Partial Attribute")
			partial.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a.Name, "Type"))
			values := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Values")
			for _, val := range a.Values {
				values.AppendChild(ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(val), "Value"))
			}
			partial.AppendChild(values)
			attrs.AppendChild(partial)
		}
		packet.AppendChild(attrs)

	case SearchResultDone:
		appendResult(packet, v.Result)

	case ExtendedRequest:
		packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, v.Name, "Request Name"))
		if v.HasValue {
			packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 1, string(v.Value), "Request Value"))
		}

	case ExtendedResponse:
		appendResult(packet, v.Result)
		if v.Name != "" {
			packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 10, v.Name, "Response Name"))
		}
		if v.HasValue {
			packet.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 11, string(v.Value), "Response Value"))
		}

	default:
		panic(fmt.Sprintf("ldapwire: unencodable op %T", op))
	}

	return packet
}

func opDescription(op Op) string {
	switch op.(type) {
	case BindRequest:
		return "Bind Request"
	case BindResponse:
		return "Bind Response"
	case UnbindRequest:
		return "Unbind Request"
	case SearchRequest:
		return "Search Request"
	case SearchResultEntry:
		return "Search Result Entry"
	case SearchResultDone:
		return "Search Result Done"
	case ExtendedRequest:
		return "Extended Request"
	case ExtendedResponse:
		return "Extended Response"
	default:
		return "Op"
	}
}

func appendResult(packet *ber.Packet, res Result) {
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(res.Code), "Result Code"))
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.MatchedDN, "Matched DN"))
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.Message, "Diagnostic Message"))
	if len(res.Referral) > 0 {
		referral := ber.Encode(ber.ClassContext, ber.TypeConstructed, 3, nil, "Referral")
		for _, r := range res.Referral {
			referral.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r, "URI"))
		}
		packet.AppendChild(referral)
	}
}

func encodeControls(controls []Control) *ber.Packet {
	seq := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
	for _, c := range controls {
		ctrl := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
		ctrl.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.Type, "Control Type"))
		if c.Criticality {
			ctrl.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
		}
		if c.HasValue {
			ctrl.AppendChild(ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.Value), "Control Value"))
		}
		seq.AppendChild(ctrl)
	}
	return seq
}

func encodeFilter(f Filter) *ber.Packet {
	tag := ber.Tag(f.filterTag())

	switch v := f.(type) {
	case FilterAnd:
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, "And")
		for _, child := range v.Filters {
			packet.AppendChild(encodeFilter(child))
		}
		return packet
	case FilterOr:
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, "Or")
		for _, child := range v.Filters {
			packet.AppendChild(encodeFilter(child))
		}
		return packet
	case FilterNot:
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, "Not")
		packet.AppendChild(encodeFilter(v.Filter))
		return packet
	case FilterEqualityMatch:
		return encodeAttrValAssertion(tag, "Equality Match", v.Attribute, v.Value)
	case FilterGreaterOrEqual:
		return encodeAttrValAssertion(tag, "Greater Or Equal", v.Attribute, v.Value)
	case FilterLessOrEqual:
		return encodeAttrValAssertion(tag, "Less Or Equal", v.Attribute, v.Value)
	case FilterApproxMatch:
		return encodeAttrValAssertion(tag, "Approx Match", v.Attribute, v.Value)
	case FilterPresent:
		return ber.NewString(ber.ClassContext, ber.TypePrimitive, tag, v.Attribute, "Present")
	case FilterSubstrings:
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, "Substrings")
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v.Attribute, "Type"))
		subs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Substrings")
		if v.Initial != "" {
			subs.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, v.Initial, "Initial"))
		}
		for _, a := range v.Any {
			subs.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 1, a, "Any"))
		}
		if v.Final != "" {
			subs.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 2, v.Final, "Final"))
		}
		packet.AppendChild(subs)
		return packet
	case FilterExtensibleMatch:
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, "Extensible Match")
		if v.MatchingRule != "" {
			packet.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 1, v.MatchingRule, "Matching Rule"))
		}
		if v.Attribute != "" {
			packet.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 2, v.Attribute, "Type"))
		}
		packet.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 3, v.Value, "Match Value"))
		if v.DNAttributes {
			packet.AppendChild(ber.NewBoolean(ber.ClassContext, ber.TypePrimitive, 4, true, "DN Attributes"))
		}
		return packet
	default:
		panic(fmt.Sprintf("ldapwire: unencodable filter %T", f))
	}
}

func encodeAttrValAssertion(tag ber.Tag, desc, attribute, value string) *ber.Packet {
	packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, desc)
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attribute, "Attribute"))
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
	return packet
}

// Decode parses a single BER-encoded LDAPMessage packet (as produced by
// ReadPacket) into a Message.
func Decode(packet *ber.Packet) (Message, error) {
	if len(packet.Children) < 2 {
		return Message{}, fmt.Errorf("ldapwire: malformed envelope: want >=2 children, got %d", len(packet.Children))
	}

	msgID, ok := packet.Children[0].Value.(int64)
	if !ok {
		return Message{}, fmt.Errorf("ldapwire: malformed message id")
	}

	op, err := decodeOp(packet.Children[1])
	if err != nil {
		return Message{}, err
	}

	msg := Message{MsgID: msgID, Op: op}

	if len(packet.Children) > 2 {
		msg.Controls, err = decodeControls(packet.Children[2])
		if err != nil {
			return Message{}, err
		}
	}

	return msg, nil
}

func decodeOp(packet *ber.Packet) (Op, error) {
	switch int(packet.Tag) {
	case TagBindRequest:
		if len(packet.Children) < 3 {
			return nil, fmt.Errorf("ldapwire: malformed bind request")
		}
		version, _ := packet.Children[0].Value.(int64)
		dn, _ := packet.Children[1].Value.(string)
		pw := packet.Children[2].Data.Bytes()
		return BindRequest{Version: version, DN: dn, Password: pw}, nil

	case TagBindResponse:
		res, rest, err := decodeResult(packet.Children)
		if err != nil {
			return nil, err
		}
		resp := BindResponse{Result: res}
		if len(rest) > 0 {
			resp.SASLCreds = rest[0].Data.Bytes()
			resp.HasSASLCred = true
		}
		return resp, nil

	case TagUnbindRequest:
		return UnbindRequest{}, nil

	case TagSearchRequest:
		if len(packet.Children) < 8 {
			return nil, fmt.Errorf("ldapwire: malformed search request")
		}
		base, _ := packet.Children[0].Value.(string)
		scope, _ := packet.Children[1].Value.(int64)
		deref, _ := packet.Children[2].Value.(int64)
		sizeLimit, _ := packet.Children[3].Value.(int64)
		timeLimit, _ := packet.Children[4].Value.(int64)
		typesOnly, _ := packet.Children[5].Value.(bool)

		filter, err := decodeFilter(packet.Children[6])
		if err != nil {
			return nil, err
		}

		var attrs []string
		for _, a := range packet.Children[7].Children {
			if s, ok := a.Value.(string); ok {
				attrs = append(attrs, s)
			}
		}

		return SearchRequest{
			BaseDN:       base,
			Scope:        SearchScope(scope),
			DerefAliases: DerefAliases(deref),
			SizeLimit:    sizeLimit,
			TimeLimit:    timeLimit,
			TypesOnly:    typesOnly,
			Filter:       filter,
			Attributes:   attrs,
		}, nil

	case TagSearchResultEntry:
		if len(packet.Children) < 2 {
			return nil, fmt.Errorf("ldapwire: malformed search result entry")
		}
		dn, _ := packet.Children[0].Value.(string)
		var attrs []EntryAttribute
		for _, partial := range packet.Children[1].Children {
			if len(partial.Children) < 2 {
				continue
			}
			name, _ := partial.Children[0].Value.(string)
			var values [][]byte
			for _, v := range partial.Children[1].Children {
				values = append(values, v.Data.Bytes())
			}
			attrs = append(attrs, EntryAttribute{Name: name, Values: values})
		}
		return SearchResultEntry{DN: dn, Attributes: attrs}, nil

	case TagSearchResultDone:
		res, _, err := decodeResult(packet.Children)
		if err != nil {
			return nil, err
		}
		return SearchResultDone{Result: res}, nil

	case TagExtendedRequest:
		req := ExtendedRequest{}
		for _, c := range packet.Children {
			switch c.Tag {
			case 0:
				req.Name, _ = c.Value.(string)
				if req.Name == "" {
					req.Name = string(c.Data.Bytes())
				}
			case 1:
				req.Value = c.Data.Bytes()
				req.HasValue = true
			}
		}
		return req, nil

	case TagExtendedResponse:
		res, rest, err := decodeResult(packet.Children)
		if err != nil {
			return nil, err
		}
		resp := ExtendedResponse{Result: res}
		for _, c := range rest {
			switch c.Tag {
			case 10:
				resp.Name = string(c.Data.Bytes())
			case 11:
				resp.Value = c.Data.Bytes()
				resp.HasValue = true
			}
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("ldapwire: unrecognized protocolOp tag %d", packet.Tag)
	}
}

// decodeResult pulls the common LDAPResult prefix (code, matchedDN,
// message, optional referral) off a children slice and returns the
// remaining children for operation-specific trailing fields.
func decodeResult(children []*ber.Packet) (Result, []*ber.Packet, error) {
	if len(children) < 3 {
		return Result{}, nil, fmt.Errorf("ldapwire: malformed result")
	}

	code, _ := children[0].Value.(int64)
	matched, _ := children[1].Value.(string)
	message, _ := children[2].Value.(string)

	res := Result{Code: ResultCode(code), MatchedDN: matched, Message: message}
	rest := children[3:]

	if len(rest) > 0 && rest[0].ClassType == ber.ClassContext && rest[0].Tag == 3 {
		for _, uri := range rest[0].Children {
			res.Referral = append(res.Referral, string(uri.Data.Bytes()))
		}
		rest = rest[1:]
	}

	return res, rest, nil
}

func decodeControls(packet *ber.Packet) ([]Control, error) {
	var controls []Control
	for _, c := range packet.Children {
		if len(c.Children) < 1 {
			continue
		}
		ctrl := Control{}
		ctrl.Type, _ = c.Children[0].Value.(string)
		idx := 1
		if idx < len(c.Children) && c.Children[idx].Tag == ber.TagBoolean {
			ctrl.Criticality, _ = c.Children[idx].Value.(bool)
			idx++
		}
		if idx < len(c.Children) {
			ctrl.Value = c.Children[idx].Data.Bytes()
			ctrl.HasValue = true
		}
		controls = append(controls, ctrl)
	}
	return controls, nil
}

func decodeFilter(packet *ber.Packet) (Filter, error) {
	switch int(packet.Tag) {
	case filterTagAnd:
		var filters []Filter
		for _, c := range packet.Children {
			f, err := decodeFilter(c)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
		return FilterAnd{Filters: filters}, nil

	case filterTagOr:
		var filters []Filter
		for _, c := range packet.Children {
			f, err := decodeFilter(c)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
		return FilterOr{Filters: filters}, nil

	case filterTagNot:
		if len(packet.Children) != 1 {
			return nil, fmt.Errorf("ldapwire: malformed NOT filter")
		}
		inner, err := decodeFilter(packet.Children[0])
		if err != nil {
			return nil, err
		}
		return FilterNot{Filter: inner}, nil

	case filterTagEqualityMatch:
		attr, val := decodeAttrValAssertion(packet)
		return FilterEqualityMatch{Attribute: attr, Value: val}, nil

	case filterTagGreaterOrEqual:
		attr, val := decodeAttrValAssertion(packet)
		return FilterGreaterOrEqual{Attribute: attr, Value: val}, nil

	case filterTagLessOrEqual:
		attr, val := decodeAttrValAssertion(packet)
		return FilterLessOrEqual{Attribute: attr, Value: val}, nil

	case filterTagApproxMatch:
		attr, val := decodeAttrValAssertion(packet)
		return FilterApproxMatch{Attribute: attr, Value: val}, nil

	case filterTagPresent:
		attr, _ := packet.Value.(string)
		if attr == "" {
			attr = string(packet.Data.Bytes())
		}
		return FilterPresent{Attribute: attr}, nil

	case filterTagSubstrings:
		if len(packet.Children) < 2 {
			return nil, fmt.Errorf("ldapwire: malformed substrings filter")
		}
		attr, _ := packet.Children[0].Value.(string)
		sub := FilterSubstrings{Attribute: attr}
		for _, piece := range packet.Children[1].Children {
			val := string(piece.Data.Bytes())
			switch piece.Tag {
			case 0:
				sub.Initial = val
			case 1:
				sub.Any = append(sub.Any, val)
			case 2:
				sub.Final = val
			}
		}
		return sub, nil

	case filterTagExtensibleMatch:
		ext := FilterExtensibleMatch{}
		for _, c := range packet.Children {
			switch c.Tag {
			case 1:
				ext.MatchingRule = string(c.Data.Bytes())
			case 2:
				ext.Attribute = string(c.Data.Bytes())
			case 3:
				ext.Value = string(c.Data.Bytes())
			case 4:
				ext.DNAttributes, _ = c.Value.(bool)
			}
		}
		return ext, nil

	default:
		return nil, fmt.Errorf("ldapwire: unrecognized filter tag %d", packet.Tag)
	}
}

func decodeAttrValAssertion(packet *ber.Packet) (attribute, value string) {
	if len(packet.Children) < 2 {
		return "", ""
	}
	attribute, _ = packet.Children[0].Value.(string)
	value, _ = packet.Children[1].Value.(string)
	return attribute, value
}
