package util

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var allowedMailTypes = map[string]bool{
	"NONE": true, "BEGIN": true, "END": true, "FAIL": true,
	"TIMELIMIT": true, "ALL": true,
}

// JobExtraAttrs carries the optional job annotations that end up as
// scheduler directives and in the sweep report.
type JobExtraAttrs struct {
	Comment  string
	MailType string
	MailUser string
}

func (j *JobExtraAttrs) Validate() error {
	if j.MailType != "" && !allowedMailTypes[j.MailType] {
		return fmt.Errorf("invalid mail type: %s", j.MailType)
	}
	if j.MailType != "" && j.MailType != "NONE" && j.MailUser == "" {
		return fmt.Errorf("--mail-user is required when --mail-type is set")
	}
	return nil
}

// Marshal packs the attributes into a JSON string; empty fields are omitted.
func (j *JobExtraAttrs) Marshal() (string, error) {
	result := ""
	var err error
	if j.Comment != "" {
		result, err = sjson.Set(result, "comment", j.Comment)
		if err != nil {
			return "", err
		}
	}
	if j.MailType != "" {
		result, err = sjson.Set(result, "mail.type", j.MailType)
		if err != nil {
			return "", err
		}
	}
	if j.MailUser != "" {
		result, err = sjson.Set(result, "mail.user", j.MailUser)
		if err != nil {
			return "", err
		}
	}
	return result, nil
}

// We treat "" as a valid JSON string
func GetExtraAttrComment(extraAttr string) string {
	if extraAttr == "" || !gjson.Valid(extraAttr) {
		return ""
	}
	return gjson.Get(extraAttr, "comment").String()
}

func GetExtraAttrMail(extraAttr string) (mailType string, mailUser string) {
	if extraAttr == "" || !gjson.Valid(extraAttr) {
		return "", ""
	}
	return gjson.Get(extraAttr, "mail.type").String(),
		gjson.Get(extraAttr, "mail.user").String()
}
