package invoice

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const dateLayout = "2006-01-02"

// FieldErrors 聚合一次提交里所有违反的校验规则。
// 校验失败的提交在发出任何网络请求前就被拦下。
type FieldErrors []string

func (e FieldErrors) Error() string {
	return "please correct the following:\n- " + strings.Join(e, "\n- ")
}

var (
	fullnameRe = regexp.MustCompile(`^[a-zA-Z\s.'-]+$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe    = regexp.MustCompile(`^[\d+\-\s]{7,15}$`)
)

// ValidateFields 校验发票核心字段。now 注入便于测试"开票日期不能在未来"。
func ValidateFields(d *Detail, now time.Time) error {
	var errs FieldErrors

	if d.InvoiceDate == "" {
		errs = append(errs, "invoice date is required")
	} else if inv, err := time.Parse(dateLayout, d.InvoiceDate); err != nil {
		errs = append(errs, "invoice date must be formatted as YYYY-MM-DD")
	} else {
		if inv.After(now) {
			errs = append(errs, "invoice date cannot be in the future")
		}
		if d.DueDate != "" {
			due, err := time.Parse(dateLayout, d.DueDate)
			if err != nil {
				errs = append(errs, "due date must be formatted as YYYY-MM-DD")
			} else if due.Before(inv) {
				errs = append(errs, "due date cannot be before invoice date")
			}
		}
	}

	if !ValidPaymentMethod(d.PaymentMethod) {
		errs = append(errs, "payment method is required")
	}

	if d.Kind == KindSingle {
		if len(strings.TrimSpace(d.Description)) < 5 {
			errs = append(errs, "description must be at least 5 characters")
		}
		if d.Quantity < 1 {
			errs = append(errs, "quantity must be a number >= 1")
		}
		if d.UnitPrice < 0 {
			errs = append(errs, "unit price must be a number >= 0")
		}
	} else {
		if len(d.Items) == 0 {
			errs = append(errs, "at least one invoice item is required")
		}
		for i, it := range d.Items {
			errs = append(errs, validateItem(i, it)...)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateItem(i int, it Item) FieldErrors {
	var errs FieldErrors
	n := strconv.Itoa(i + 1)
	if strings.TrimSpace(it.ProductName) == "" {
		errs = append(errs, "item "+n+": product name is required")
	}
	if it.Quantity <= 0 {
		errs = append(errs, "item "+n+": quantity must be greater than 0")
	}
	if it.UnitPrice < 0 {
		errs = append(errs, "item "+n+": unit price must be a number >= 0")
	}
	return errs
}

// ValidateSellerProfile 校验卖家联系方式字段，email/phone/social 均为可选。
func ValidateSellerProfile(fullname, email, phone, social string) error {
	var errs FieldErrors
	if len(strings.TrimSpace(fullname)) < 2 {
		errs = append(errs, "full name must be at least 2 characters")
	} else if !fullnameRe.MatchString(fullname) {
		errs = append(errs, "full name contains invalid characters")
	}
	if email != "" && !emailRe.MatchString(email) {
		errs = append(errs, "invalid email format")
	}
	if phone != "" && !phoneRe.MatchString(phone) {
		errs = append(errs, "invalid phone number format")
	}
	if social != "" && !strings.Contains(social, "(FB)") && !strings.Contains(social, "(IG)") {
		errs = append(errs, "social media must include (FB) or (IG)")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateSecretKey 校验卖家密钥强度：8 位以上且含大小写、数字、特殊字符。
func ValidateSecretKey(key string) error {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range key {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if len(key) < 8 || !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return FieldErrors{"secret key must be 8+ characters with uppercase, lowercase, number, and special character"}
	}
	return nil
}
